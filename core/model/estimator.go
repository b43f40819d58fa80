package model

import "gonum.org/v1/gonum/mat"

// Fitter は追加イテレーション数を指定して学習を継続できるモデルのインターフェース
type Fitter interface {
	// Fit は既存の状態から最大 nMoreIter 回だけ学習を進める
	Fit(X mat.Matrix, y mat.Vector, nMoreIter int) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (*mat.VecDense, error)
}

// LinearModel は線形項を持つモデルのインターフェース
type LinearModel interface {
	// Coef は学習された線形係数を返す
	Coef() []float64
	// Bias は学習された切片を返す
	Bias() float64
}
