package model

// IncrementalEstimator は学習を複数回の Fit 呼び出しに分割できるモデルのインターフェース
type IncrementalEstimator interface {
	Regressor

	// NIterations はこれまでに実行された学習イテレーション数の累計を返す
	NIterations() int

	// Phase は現在の学習フェーズを返す
	Phase() Phase

	// Reset はモデルを未学習状態に戻す
	Reset()
}

// OnlineMetrics は学習中のメトリクスを追跡するインターフェース
type OnlineMetrics interface {
	// LossHistory は各イテレーション後の学習損失の履歴を返す
	LossHistory() []float64

	// Converged は収束したかどうかを返す
	Converged() bool
}
