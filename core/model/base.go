package model

// Phase は逐次学習モデルの学習フェーズを表す
type Phase int

const (
	// Uninitialized はパラメータ未確保の状態
	Uninitialized Phase = iota
	// Initializing はパラメータ確保済みで初期化ラウンド待ちの状態
	Initializing
	// Fitting は反復学習中の状態
	Fitting
	// Converged は収束済みの状態。Reset まで追加学習は行わない
	Converged
)

// String returns the lower-case name used in log fields.
func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Fitting:
		return "fitting"
	case Converged:
		return "converged"
	default:
		return "unknown"
	}
}

// Shaped は入力次元が確定しているかどうかを返す
func (p Phase) Shaped() bool {
	return p != Uninitialized
}

// CanAdvance reports whether moving from p to next is a legal transition.
// Any phase may go back to Uninitialized through a reset.
func (p Phase) CanAdvance(next Phase) bool {
	if next == Uninitialized {
		return true
	}
	switch p {
	case Uninitialized:
		return next == Initializing
	case Initializing:
		return next == Fitting || next == Converged
	case Fitting:
		return next == Converged
	default:
		return false
	}
}
