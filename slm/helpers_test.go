package slm

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/slmgo/core/sparse"
	"github.com/YuminosukeSato/slmgo/datasets"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// problem is a synthetic train/test split drawn from a known SLM.
type problem struct {
	X, XTest *sparse.CSR
	Y, YTest *mat.VecDense
}

func newProblem(t testing.TB, seed uint64, nTrain, nTest, d, k int) problem {
	t.Helper()
	src := rand.NewPCG(seed, 7)
	X, err := datasets.BernoulliCSR(src, nTrain, d, 0.1)
	require.NoError(t, err)
	XTest, err := datasets.BernoulliCSR(src, nTest, d, 0.1)
	require.NoError(t, err)
	gt := datasets.NewGroundTruth(src, d, k, -0.5)
	return problem{
		X:     X,
		XTest: XTest,
		Y:     labels(t, X, gt),
		YTest: labels(t, XTest, gt),
	}
}

func labels(t testing.TB, X *sparse.CSR, gt datasets.GroundTruth) *mat.VecDense {
	t.Helper()
	n, d := X.Dims()
	f := NewFactor(d)
	if gt.U != nil {
		f = FactorFromU(gt.U, nil)
	}
	q, err := EvaluateDiagFree(f, X)
	require.NoError(t, err)
	lin := X.MulVec(nil, gt.W)
	for i := range q {
		q[i] += gt.Bias + lin[i]
	}
	return mat.NewVecDense(n, q)
}

// nmse is MSE(y, p) / MSE(y, 0).
func nmse(y, p mat.Vector) float64 {
	var num, den float64
	for i := 0; i < y.Len(); i++ {
		d := y.AtVec(i) - p.AtVec(i)
		num += d * d
		den += y.AtVec(i) * y.AtVec(i)
	}
	return num / den
}

// quietWarnings swallows library warnings for the duration of a test and
// returns the captured ones.
func quietWarnings(t *testing.T) *[]error {
	t.Helper()
	var captured []error
	errors.SetWarningHandler(func(w error) { captured = append(captured, w) })
	t.Cleanup(func() { errors.SetWarningHandler(nil) })
	return &captured
}
