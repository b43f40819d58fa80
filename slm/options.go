package slm

import "github.com/YuminosukeSato/slmgo/pkg/log"

// Option is a function that configures an SLM.
type Option func(*SLM)

// WithRankM sets the target rank of the bilinear factor.
func WithRankM(k int) Option {
	return func(m *SLM) {
		m.config.RankM = k
	}
}

// WithMaxIter sets the lifetime ceiling on greedy iterations.
func WithMaxIter(n int) Option {
	return func(m *SLM) {
		m.config.MaxIter = n
	}
}

// WithTol sets the convergence tolerance.
func WithTol(tol float64) Option {
	return func(m *SLM) {
		m.config.Tol = tol
	}
}

// WithMaxInitIter sets the ceiling on initialization rounds.
func WithMaxInitIter(n int) Option {
	return func(m *SLM) {
		m.config.MaxInitIter = n
	}
}

// WithInitTol sets the tolerance of the initialization phase.
func WithInitTol(tol float64) Option {
	return func(m *SLM) {
		m.config.InitTol = tol
	}
}

// WithLambdaW sets the ridge strength on the linear coefficients.
func WithLambdaW(lambda float64) Option {
	return func(m *SLM) {
		m.config.LambdaW = lambda
	}
}

// WithLambdaM sets the ridge strength on the factor weights.
func WithLambdaM(lambda float64) Option {
	return func(m *SLM) {
		m.config.LambdaM = lambda
	}
}

// WithUsingCache enables or disables the aggregate cache.
func WithUsingCache(enabled bool) Option {
	return func(m *SLM) {
		m.config.UsingCache = enabled
	}
}

// WithSolverAlgorithm selects the solver.
func WithSolverAlgorithm(name string) Option {
	return func(m *SLM) {
		m.config.SolverAlgorithm = name
	}
}

// WithLearningRate sets the step scaling; math.Inf(1) takes full steps.
func WithLearningRate(lr float64) Option {
	return func(m *SLM) {
		m.config.LearningRate = lr
	}
}

// WithDiagZero sets whether the diagonal of M is forced to zero.
func WithDiagZero(diagZero bool) Option {
	return func(m *SLM) {
		m.config.DiagZero = diagZero
	}
}

// WithTruncateY enables clipping labels to the training range.
func WithTruncateY(truncate bool) Option {
	return func(m *SLM) {
		m.config.TruncateY = truncate
	}
}

// WithRandomState sets the seed of the eigen solvers.
func WithRandomState(seed uint64) Option {
	return func(m *SLM) {
		m.config.RandomState = seed
	}
}

// WithPowerIter sets the power iteration budget per greedy direction.
func WithPowerIter(n int) Option {
	return func(m *SLM) {
		m.config.PowerIter = n
	}
}

// WithCacheCapacity bounds the aggregate cache.
func WithCacheCapacity(n int) Option {
	return func(m *SLM) {
		m.config.CacheCapacity = n
	}
}

// WithVerbose logs progress at info level.
func WithVerbose(verbose bool) Option {
	return func(m *SLM) {
		m.config.Verbose = verbose
	}
}

// WithLogger replaces the estimator's logger.
func WithLogger(logger log.Logger) Option {
	return func(m *SLM) {
		m.logger = logger
	}
}
