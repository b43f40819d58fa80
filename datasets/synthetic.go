// Package datasets generates the synthetic sparse regression problems used
// by the learning-curve example and the estimator tests.
package datasets

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/slmgo/core/sparse"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// BernoulliCSR draws an n×d matrix whose entries are 1/√(d·p) with
// probability p and zero otherwise, so that E‖x‖² = 1.
func BernoulliCSR(src rand.Source, n, d int, p float64) (*sparse.CSR, error) {
	if n < 0 || d < 1 {
		return nil, errors.NewValueError("BernoulliCSR", "need n >= 0 and d >= 1")
	}
	if !(p > 0 && p <= 1) {
		return nil, errors.NewValueError("BernoulliCSR", "p must be in (0, 1]")
	}
	coin := distuv.Bernoulli{P: p, Src: src}
	scale := 1 / math.Sqrt(float64(d)*p)

	b := sparse.NewBuilder(d)
	idx := make([]int, 0, d)
	val := make([]float64, 0, d)
	for i := 0; i < n; i++ {
		idx, val = idx[:0], val[:0]
		for j := 0; j < d; j++ {
			if coin.Rand() == 1 {
				idx = append(idx, j)
				val = append(val, scale)
			}
		}
		if err := b.AddRow(idx, val); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// GroundTruth is a known SLM: y = Bias + Xw + xᵀ(U Uᵀ)x with the diagonal
// of U Uᵀ removed.
type GroundTruth struct {
	U    *mat.Dense
	W    []float64
	Bias float64
}

// NewGroundTruth draws U (d×k) and w with i.i.d. N(0, 1/d) entries.
func NewGroundTruth(src rand.Source, d, k int, bias float64) GroundTruth {
	normal := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(float64(d)), Src: src}
	gt := GroundTruth{W: make([]float64, d), Bias: bias}
	if k > 0 {
		data := make([]float64, d*k)
		for i := range data {
			data[i] = normal.Rand()
		}
		gt.U = mat.NewDense(d, k, data)
	}
	for j := range gt.W {
		gt.W[j] = normal.Rand()
	}
	return gt
}
