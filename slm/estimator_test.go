package slm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/slmgo/core/model"
	"github.com/YuminosukeSato/slmgo/core/sparse"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
	"github.com/YuminosukeSato/slmgo/pkg/log"
)

func quietLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelError)
	return l
}

func TestSLM_ResumableFit(t *testing.T) {
	p := newProblem(t, 1, 800, 200, 30, 2)
	newEst := func() *SLM {
		return NewSLM(WithRankM(2), WithTol(0), WithMaxIter(0), WithRandomState(42), WithLogger(quietLogger()))
	}

	tests := []struct {
		name  string
		split []int
	}{
		{"a then b", []int{3, 4}},
		{"zero first", []int{0, 3, 4}},
		{"many small calls", []int{1, 1, 1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quietWarnings(t)
			split := newEst()
			total := 0
			for _, n := range tt.split {
				require.NoError(t, split.Fit(p.X, p.Y, n))
				total += n
			}
			single := newEst()
			require.NoError(t, single.Fit(p.X, p.Y, total))

			assert.Equal(t, single.NIterations(), split.NIterations())
			assert.Equal(t, single.LossHistory(), split.LossHistory())

			a, err := split.Predict(p.X)
			require.NoError(t, err)
			b, err := single.Predict(p.X)
			require.NoError(t, err)
			assert.Equal(t, b.RawVector().Data, a.RawVector().Data)
		})
	}
}

func TestSLM_MonotoneTrainingError(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 2, 1200, 10, 40, 3)
	est := NewSLM(WithRankM(3), WithTol(0), WithMaxIter(40), WithLogger(quietLogger()))

	require.NoError(t, est.Fit(p.X, p.Y, 0))
	pred, err := est.Predict(p.X)
	require.NoError(t, err)
	baseline := nmse(p.Y, pred)

	require.NoError(t, est.Fit(p.X, p.Y, 40))
	history := est.LossHistory()
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.LessOrEqual(t, history[i], history[i-1]*(1+1e-9), "iteration %d", i+1)
	}

	pred, err = est.Predict(p.X)
	require.NoError(t, err)
	assert.Less(t, nmse(p.Y, pred), baseline)
}

func TestSLM_PredictAfterZeroIterationFit(t *testing.T) {
	p := newProblem(t, 3, 100, 50, 12, 2)
	est := NewSLM(WithLogger(quietLogger()))

	require.NoError(t, est.Fit(p.X, p.Y, 0))
	assert.Equal(t, model.Initializing, est.Phase())
	assert.Equal(t, 0, est.NIterations())
	assert.Equal(t, 0, est.NInitIterations())

	pred, err := est.Predict(p.XTest)
	require.NoError(t, err)
	require.Equal(t, 50, pred.Len())
	for i := 0; i < pred.Len(); i++ {
		v := pred.AtVec(i)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.Zero(t, v)
	}
	assert.Len(t, est.Coef(), 12)
	assert.Equal(t, 0, est.Factor().Rank())
}

func TestSLM_FittedFactorHasZeroDiagonal(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 4, 400, 100, 15, 2)
	est := NewSLM(WithRankM(2), WithMaxIter(10), WithLogger(quietLogger()))
	require.NoError(t, est.Fit(p.X, p.Y, 10))

	f := est.Factor()
	require.Positive(t, f.Rank())
	for a := 0; a < f.Dim(); a++ {
		assert.Zero(t, f.At(a, a))
	}

	q, err := EvaluateDiagFree(f, p.XTest)
	require.NoError(t, err)
	assert.InDeltaSlice(t, explicitOffDiagonal(f, p.XTest), q, 1e-10)
}

func TestSLM_RejectsDenseInput(t *testing.T) {
	dense := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	y := mat.NewVecDense(3, []float64{1, 2, 3})

	est := NewSLM(WithLogger(quietLogger()))
	err := est.Fit(dense, y, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInputFormat))
	assert.Equal(t, model.Uninitialized, est.Phase())

	require.NoError(t, est.Fit(sparse.FromDense(dense), y, 0))
	_, err = est.Predict(dense)
	assert.True(t, errors.Is(err, errors.ErrInvalidInputFormat))
}

func TestSLM_ValidationDoesNotMutateState(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 5, 300, 20, 10, 2)
	est := NewSLM(WithRankM(2), WithLogger(quietLogger()))
	require.NoError(t, est.Fit(p.X, p.Y, 3))

	coef, bias, iters := est.Coef(), est.Bias(), est.NIterations()
	before, err := est.Predict(p.XTest)
	require.NoError(t, err)

	wrongCols := sparse.FromDense(mat.NewDense(2, 11, nil))
	nan := mat.VecDenseCopyOf(p.Y)
	nan.SetVec(0, math.NaN())

	tests := []struct {
		name     string
		fit      func() error
		category error
	}{
		{"label length", func() error { return est.Fit(p.X, p.YTest, 1) }, errors.ErrDimensionMismatch},
		{"column count", func() error { return est.Fit(wrongCols, mat.NewVecDense(2, nil), 1) }, errors.ErrDimensionMismatch},
		{"negative budget", func() error { return est.Fit(p.X, p.Y, -1) }, errors.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fit()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.category), "got %v", err)
		})
	}
	assert.Error(t, est.Fit(p.X, nan, 1))

	_, err = est.Predict(wrongCols)
	assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))

	assert.Equal(t, coef, est.Coef())
	assert.Equal(t, bias, est.Bias())
	assert.Equal(t, iters, est.NIterations())
	after, err := est.Predict(p.XTest)
	require.NoError(t, err)
	assert.Equal(t, before.RawVector().Data, after.RawVector().Data)
}

func TestSLM_InvalidConfiguration(t *testing.T) {
	p := newProblem(t, 6, 50, 10, 8, 1)
	tests := []struct {
		name string
		opt  Option
	}{
		{"diag_zero false", WithDiagZero(false)},
		{"unknown solver", WithSolverAlgorithm("SGD")},
		{"negative rank", WithRankM(-1)},
		{"learning rate", WithLearningRate(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := NewSLM(tt.opt, WithLogger(quietLogger()))
			err := est.Fit(p.X, p.Y, 1)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
			assert.Equal(t, model.Uninitialized, est.Phase())
		})
	}
}

func TestSLM_PredictBeforeFit(t *testing.T) {
	est := NewSLM(WithLogger(quietLogger()))
	_, err := est.Predict(sparse.FromDense(mat.NewDense(1, 2, []float64{1, 1})))
	assert.True(t, errors.Is(err, errors.ErrNotFitted))
	assert.Nil(t, est.Factor())
}

func TestSLM_CacheDoesNotChangeResults(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 7, 500, 100, 20, 2)
	fit := func(cache bool) (*SLM, []float64) {
		est := NewSLM(WithRankM(2), WithUsingCache(cache), WithTol(0), WithMaxIter(8), WithLogger(quietLogger()))
		require.NoError(t, est.Fit(p.X, p.Y, 4))
		require.NoError(t, est.Fit(p.X, p.Y, 4))
		pred, err := est.Predict(p.XTest)
		require.NoError(t, err)
		return est, pred.RawVector().Data
	}

	cached, a := fit(true)
	uncached, b := fit(false)
	assert.Equal(t, a, b)

	hits, _ := cached.CacheStats()
	assert.Positive(t, hits)
	hits, misses := uncached.CacheStats()
	assert.Zero(t, hits)
	assert.Positive(t, misses)
}

func TestSLM_NewDataInvalidatesAggregates(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 8, 300, 300, 12, 1)
	est := NewSLM(WithRankM(0), WithTol(0), WithLogger(quietLogger()))
	require.NoError(t, est.Fit(p.X, p.Y, 2))
	_, missesBefore := est.CacheStats()

	// same shape, different content
	require.NoError(t, est.Fit(p.XTest, p.YTest, 2))
	_, missesAfter := est.CacheStats()
	assert.GreaterOrEqual(t, missesAfter-missesBefore, uint64(3), "csc, sqdata and colstats must be rebuilt")
}

// ownedCSR copies X into arrays the test can rewrite in place.
func ownedCSR(t *testing.T, X *sparse.CSR) (*sparse.CSR, []float64) {
	t.Helper()
	n, d := X.Dims()
	indptr := make([]int, 1, n+1)
	var indices []int
	var data []float64
	for i := 0; i < n; i++ {
		idx, val := X.Row(i)
		indices = append(indices, idx...)
		data = append(data, val...)
		indptr = append(indptr, len(data))
	}
	out, err := sparse.NewCSR(n, d, indptr, indices, data)
	require.NoError(t, err)
	return out, data
}

func TestSLM_InPlaceWriteBetweenFitsRebuildsAggregates(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 21, 400, 10, 15, 2)
	fit := func(cache bool) ([]float64, []float64) {
		X, data := ownedCSR(t, p.X)
		est := NewSLM(WithRankM(2), WithUsingCache(cache), WithTol(0), WithMaxIter(0), WithLogger(quietLogger()))
		require.NoError(t, est.Fit(X, p.Y, 3))
		for i := range data {
			data[i] *= 2
		}
		require.NoError(t, est.Fit(X, p.Y, 3))
		pred, err := est.Predict(X)
		require.NoError(t, err)
		return est.LossHistory(), pred.RawVector().Data
	}

	cachedLoss, cachedPred := fit(true)
	freshLoss, freshPred := fit(false)
	assert.Equal(t, freshLoss, cachedLoss)
	assert.Equal(t, freshPred, cachedPred)

	// the second call trains on the rewritten matrix and must not regress
	for i := 4; i < len(cachedLoss); i++ {
		assert.LessOrEqual(t, cachedLoss[i], cachedLoss[i-1], "iteration %d", i+1)
	}
}

func TestSLM_StallEndsFitEarly(t *testing.T) {
	warnings := quietWarnings(t)
	// one sample is fitted exactly by the linear part, leaving no residual
	// for the selector to reduce
	X := sparse.FromDense(mat.NewDense(1, 5, []float64{1, 0, 2, 0, 1}))
	y := mat.NewVecDense(1, []float64{3})
	est := NewSLM(WithRankM(1), WithTol(0), WithMaxIter(0), WithLogger(quietLogger()))

	require.NoError(t, est.Fit(X, y, 10))
	assert.True(t, est.Stalled())
	assert.False(t, est.Converged())
	assert.Equal(t, model.Converged, est.Phase())
	assert.Equal(t, 1, est.NIterations())

	var stall *errors.ConvergenceStallWarning
	found := false
	for _, w := range *warnings {
		if errors.As(w, &stall) {
			found = true
		}
	}
	assert.True(t, found, "expected a ConvergenceStallWarning, got %v", *warnings)

	history := est.LossHistory()
	require.NoError(t, est.Fit(X, y, 10))
	assert.Equal(t, 1, est.NIterations())
	assert.Equal(t, history, est.LossHistory())

	est.Reset()
	assert.False(t, est.Stalled())
	assert.Equal(t, model.Uninitialized, est.Phase())
}

func TestSLM_ConvergedIsNoOp(t *testing.T) {
	p := newProblem(t, 9, 300, 10, 10, 1)
	est := NewSLM(WithRankM(0), WithTol(0.5), WithLogger(quietLogger()))

	require.NoError(t, est.Fit(p.X, p.Y, 10))
	require.True(t, est.Converged(), "phase %s", est.Phase())
	assert.False(t, est.Stalled())
	iters := est.NIterations()
	coef := est.Coef()

	require.NoError(t, est.Fit(p.X, p.Y, 10))
	assert.Equal(t, iters, est.NIterations())
	assert.Equal(t, coef, est.Coef())

	est.Reset()
	assert.Equal(t, model.Uninitialized, est.Phase())
	assert.Zero(t, est.NIterations())
	assert.Empty(t, est.LossHistory())
	_, err := est.Predict(p.X)
	assert.True(t, errors.Is(err, errors.ErrNotFitted))
}

func TestSLM_RankZeroFitsLinearPart(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 10, 600, 200, 20, 0)
	est := NewSLM(WithRankM(0), WithTol(0), WithMaxIter(20), WithLogger(quietLogger()))
	require.NoError(t, est.Fit(p.X, p.Y, 20))

	assert.Equal(t, 0, est.Factor().Rank())
	assert.Positive(t, est.NInitIterations())
	pred, err := est.Predict(p.XTest)
	require.NoError(t, err)
	assert.Less(t, nmse(p.YTest, pred), 0.02)
	assert.InDelta(t, -0.5, est.Bias(), 0.2)
}

func TestSLM_TruncateY(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 11, 300, 50, 10, 1)
	outliers := mat.VecDenseCopyOf(p.Y)
	outliers.SetVec(0, 100)
	outliers.SetVec(1, -100)

	lo, hi := mat.Min(p.Y), mat.Max(p.Y)
	clipped := mat.VecDenseCopyOf(outliers)
	for i := 0; i < clipped.Len(); i++ {
		clipped.SetVec(i, errors.ClipValue(clipped.AtVec(i), lo, hi))
	}

	truncating := NewSLM(WithRankM(1), WithTruncateY(true), WithLogger(quietLogger()))
	require.NoError(t, truncating.Fit(p.X, p.Y, 0))
	require.NoError(t, truncating.Fit(p.X, outliers, 5))

	reference := NewSLM(WithRankM(1), WithLogger(quietLogger()))
	require.NoError(t, reference.Fit(p.X, p.Y, 0))
	require.NoError(t, reference.Fit(p.X, clipped, 5))

	a, err := truncating.Predict(p.XTest)
	require.NoError(t, err)
	b, err := reference.Predict(p.XTest)
	require.NoError(t, err)
	assert.Equal(t, b.RawVector().Data, a.RawVector().Data)
	assert.Equal(t, 100.0, outliers.AtVec(0), "caller labels must not be modified")
}

func TestSLM_MaxIterIsLifetimeCeiling(t *testing.T) {
	warnings := quietWarnings(t)
	p := newProblem(t, 12, 300, 10, 10, 1)
	est := NewSLM(WithRankM(1), WithTol(0), WithMaxIter(5), WithLogger(quietLogger()))

	require.NoError(t, est.Fit(p.X, p.Y, 3))
	require.NoError(t, est.Fit(p.X, p.Y, 10))
	if est.Stalled() {
		t.Skip("selector stalled before the ceiling")
	}
	assert.Equal(t, 5, est.NIterations())

	var cw *errors.ConvergenceWarning
	found := false
	for _, w := range *warnings {
		if errors.As(w, &cw) {
			found = true
		}
	}
	assert.True(t, found, "expected a ConvergenceWarning, got %v", *warnings)
}

func TestSLM_PartialLearningRate(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 13, 500, 100, 15, 2)
	est := NewSLM(WithRankM(2), WithLearningRate(0.5), WithTol(0), WithLogger(quietLogger()))
	require.NoError(t, est.Fit(p.X, p.Y, 0))
	base, err := est.Predict(p.X)
	require.NoError(t, err)

	require.NoError(t, est.Fit(p.X, p.Y, 10))
	pred, err := est.Predict(p.X)
	require.NoError(t, err)
	assert.Less(t, nmse(p.Y, pred), nmse(p.Y, base))
}

func TestSLM_Params(t *testing.T) {
	p := newProblem(t, 14, 100, 10, 8, 1)
	est := NewSLM(WithLogger(quietLogger()))

	require.NoError(t, est.SetParams(map[string]interface{}{
		"rank_M":        2,
		"learning_rate": "inf",
		"random_state":  7,
	}))
	params := est.GetParams()
	assert.Equal(t, 2, params["rank_M"])
	assert.Equal(t, uint64(7), params["random_state"])
	assert.True(t, math.IsInf(est.Config().LearningRate, 1))

	err := est.SetParams(map[string]interface{}{"rank_M": -3})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
	assert.Equal(t, 2, est.Config().RankM)

	require.NoError(t, est.Fit(p.X, p.Y, 0))
	err = est.SetParams(map[string]interface{}{"rank_M": 1})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))

	est.Reset()
	assert.NoError(t, est.SetParams(map[string]interface{}{"rank_M": 1}))
}

func TestSLM_Score(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 15, 600, 200, 20, 2)
	est := NewSLM(WithRankM(2), WithLogger(quietLogger()))
	require.NoError(t, est.Fit(p.X, p.Y, 10))

	score, err := est.Score(p.XTest, p.YTest)
	require.NoError(t, err)
	assert.Greater(t, score, 0.5)
	assert.LessOrEqual(t, score, 1.0)
}

func TestSLM_Logging(t *testing.T) {
	quietWarnings(t)
	p := newProblem(t, 16, 200, 10, 10, 1)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	est := NewSLM(WithRankM(1), WithVerbose(true), WithLogger(logger))
	require.NoError(t, est.Fit(p.X, p.Y, 2))

	assert.True(t, logger.ContainsMessage("Training SLM"))
	assert.True(t, logger.ContainsMessage("Initialization finished"))
	assert.True(t, logger.ContainsMessage("Fit finished"))
	assert.True(t, logger.ContainsField(log.ModelNameKey, "SLM"))
	assert.True(t, logger.ContainsField(log.OperationKey, log.OperationFit))
	assert.True(t, logger.ContainsField(log.SamplesKey, float64(200)))
}

func TestSLM_EndToEndLearningCurve(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end scenario")
	}
	quietWarnings(t)

	const (
		dim        = 100
		rank       = 3
		iterations = 60
		records    = 20
	)
	p := newProblem(t, 2024, 20*rank*dim, 3000, dim, rank)
	est := NewSLM(
		WithRankM(rank),
		WithMaxIter(iterations),
		WithTol(1e-6),
		WithMaxInitIter(20),
		WithInitTol(1e-2),
		WithLambdaW(0),
		WithLambdaM(0),
		WithUsingCache(true),
		WithLearningRate(math.Inf(1)),
		WithLogger(quietLogger()),
	)

	require.NoError(t, est.Fit(p.X, p.Y, 0))
	pred, err := est.Predict(p.XTest)
	require.NoError(t, err)
	first := nmse(p.YTest, pred)

	prev := 0
	var last float64
	for r := 1; r < records; r++ {
		at := int(math.Round(float64(r) * iterations / float64(records-1)))
		require.NoError(t, est.Fit(p.X, p.Y, at-prev))
		prev = at

		pred, err = est.Predict(p.XTest)
		require.NoError(t, err)
		last = nmse(p.YTest, pred)
		require.False(t, math.IsNaN(last))
	}

	assert.Less(t, last, first)
	assert.Less(t, last, 0.1)
	assert.LessOrEqual(t, est.NIterations(), iterations)
}
