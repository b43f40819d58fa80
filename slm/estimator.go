// Package slm implements the sparse low-rank second-order model
//
//	ŷ(x) = bias + wᵀx + xᵀMx,  diag(M) = 0,  rank(M) ≤ k
//
// fitted by a greedy algorithm on sparse input. Fit is incremental: every
// call resumes from the state left by the previous one and runs at most the
// requested number of additional iterations.
package slm

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/slmgo/core/model"
	"github.com/YuminosukeSato/slmgo/metrics"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
	"github.com/YuminosukeSato/slmgo/pkg/log"
)

// seedStream is the second PCG word; the first is Config.RandomState.
const seedStream = 0x5deece66d

// SLM is a sparse low-rank second-order regression model. It is not safe
// for concurrent use.
type SLM struct {
	config Config
	state  *model.StateManager
	logger log.Logger
	cache  *Cache
	rng    *rand.Rand

	w      []float64
	bias   float64
	factor *Factor
	// nextID is the first unused atom id.
	nextID     uint64
	yMin, yMax float64

	stalled       bool
	lossHistory   []float64
	lastRelChange float64
}

var (
	_ model.IncrementalEstimator = (*SLM)(nil)
	_ model.OnlineMetrics        = (*SLM)(nil)
	_ model.LinearModel          = (*SLM)(nil)
	_ model.ParameterGetter      = (*SLM)(nil)
	_ model.ParameterSetter      = (*SLM)(nil)
)

// NewSLM creates an estimator from the default configuration and options.
// The configuration is validated by Fit.
//
// Example:
//
//	est := slm.NewSLM(slm.WithRankM(3), slm.WithMaxIter(60))
//	if err := est.Fit(X, y, 0); err != nil { ... }
//	for i := 0; i < 6; i++ {
//	    if err := est.Fit(X, y, 10); err != nil { ... }
//	}
//	pred, err := est.Predict(Xtest)
func NewSLM(opts ...Option) *SLM {
	m := &SLM{
		config: DefaultConfig(),
		state:  model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.GetLoggerWithName("slm")
	}
	m.logger = m.logger.With(log.ModelNameKey, "SLM")
	m.rebuild()
	return m
}

// NewSLMFromConfig creates an estimator from an explicit configuration.
func NewSLMFromConfig(cfg Config, opts ...Option) *SLM {
	return NewSLM(append([]Option{func(m *SLM) { m.config = cfg }}, opts...)...)
}

// rebuild recreates the cache and the random source from the config.
func (m *SLM) rebuild() {
	capacity := m.config.CacheCapacity
	if capacity < 1 {
		capacity = 1
	}
	m.cache = NewCache(capacity, m.config.UsingCache)
	m.rng = rand.New(rand.NewPCG(m.config.RandomState, seedStream))
}

// Fit runs at most nMoreIter further greedy iterations on (X, y). X must be
// a *sparse.CSR. The first call shapes the model; a call with nMoreIter = 0
// only allocates parameters, after which Predict returns the zero model.
// Input and configuration errors are returned before any state changes.
// A stalled selector ends the call early without an error; see Stalled.
func (m *SLM) Fit(X mat.Matrix, y mat.Vector, nMoreIter int) (err error) {
	defer errors.Recover(&err, "SLM.Fit")

	if err := m.config.Validate(); err != nil {
		return err
	}
	if nMoreIter < 0 {
		return errors.NewInvalidConfigurationError("n_more_iter", "must be non-negative", nMoreIter)
	}
	csr, err := asCSR("SLM.Fit", X)
	if err != nil {
		return err
	}
	n, d := csr.Dims()
	if n == 0 {
		return errors.Wrap(errors.ErrEmptyData, "SLM.Fit")
	}
	if y == nil {
		return errors.NewInvalidInputFormatError("SLM.Fit", "mat.Vector", y)
	}
	if y.Len() != n {
		return errors.NewDimensionError("SLM.Fit", n, y.Len(), 0)
	}
	if m.state.IsFitted() {
		if err := m.state.RequireFeatures("SLM.Fit", d); err != nil {
			return err
		}
	}
	labels := vectorData(y)
	if err := errors.CheckNumericalStability("SLM.Fit", labels, 0); err != nil {
		return err
	}

	start := time.Now()
	logger := m.logger.With(log.OperationKey, log.OperationFit)

	if m.state.Phase() == model.Uninitialized {
		m.shape(d, n, labels)
		logger.Debug("Parameters allocated",
			log.SamplesKey, n,
			log.FeaturesKey, d,
			log.NNZKey, csr.NNZ(),
			log.RankKey, m.config.RankM,
		)
	}
	if m.state.Phase() == model.Converged {
		logger.Debug("Model already converged, Fit is a no-op",
			log.IterationKey, m.state.Iterations(),
		)
		return nil
	}
	if nMoreIter == 0 {
		return nil
	}

	logger.Info("Training SLM",
		log.SamplesKey, n,
		log.FeaturesKey, d,
		log.NNZKey, csr.NNZ(),
		log.RequestedKey, nMoreIter,
		log.PhaseKey, m.state.Phase().String(),
	)

	if m.config.TruncateY {
		labels = m.clip(labels)
	}
	fc := newFitContext(csr, labels, m.config, m.cache, m.rng)
	if m.state.Phase() == model.Initializing {
		m.initialize(fc, logger)
	}
	if err := m.iterate(fc, nMoreIter, logger); err != nil {
		return err
	}

	hits, misses := m.cache.Stats()
	logger.Info("Fit finished",
		log.IterationKey, m.state.Iterations(),
		log.LossKey, m.lastLoss(),
		log.RelChangeKey, m.lastRelChange,
		log.PhaseKey, m.state.Phase().String(),
		log.CacheHitsKey, hits,
		log.CacheMissesKey, misses,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// shape allocates the zero model and records the label range.
func (m *SLM) shape(d, n int, labels []float64) {
	m.w = make([]float64, d)
	m.bias = 0
	m.factor = NewFactor(d)
	m.yMin, m.yMax = floats.Min(labels), floats.Max(labels)
	m.state.Shape(d, n)
}

func (m *SLM) clip(labels []float64) []float64 {
	out := make([]float64, len(labels))
	for i, v := range labels {
		out[i] = errors.ClipValue(v, m.yMin, m.yMax)
	}
	return out
}

// initialize alternates linear sweeps with block power steps toward the
// top-k eigenspace of the residual gradient, then fits the factor weights
// on that basis in closed form.
func (m *SLM) initialize(fc *fitContext, logger log.Logger) {
	_, d := fc.X.Dims()
	k := m.config.RankM
	if k > d {
		k = d
	}

	r := fc.residual(m.w, m.bias, m.factor)
	var basis [][]float64
	if k > 0 {
		basis = randomBasis(m.rng, d, k)
	}

	rounds := 0
	change := math.Inf(1)
	for rounds < m.config.MaxInitIter {
		wOld, bOld := append([]float64(nil), m.w...), m.bias
		m.bias = fc.sweepLinear(m.w, m.bias, r)
		change = linearChange(wOld, bOld, m.w, m.bias)
		if len(basis) > 0 {
			var sub float64
			basis, sub = fc.subspaceStep(r, basis)
			change = math.Max(change, sub)
		}
		rounds++
		if change < m.config.InitTol {
			break
		}
	}
	m.state.AddInitIterations(rounds)

	if len(basis) > 0 {
		r = fc.residual(m.w, m.bias, m.factor)
		m.factor = fc.fitBasis(basis, r, m.nextID)
		m.nextID += uint64(len(basis))
	}
	m.state.Advance(model.Fitting)

	logger.Debug("Initialization finished",
		log.IterationKey, rounds,
		log.RelChangeKey, change,
		log.RankKey, m.factor.Rank(),
	)
}

// iterate runs up to nMoreIter greedy iterations. Each iteration is one
// linear sweep followed by one greedy factor update, and starts from the
// residual recomputed from the stored parameters. A non-finite loss stops
// training with a NumericalInstabilityError.
func (m *SLM) iterate(fc *fitContext, nMoreIter int, logger log.Logger) error {
	level := logger.Debug
	if m.config.Verbose {
		level = logger.Info
	}

	r := fc.residual(m.w, m.bias, m.factor)
	for done := 0; done < nMoreIter; done++ {
		if m.config.MaxIter > 0 && m.state.Iterations() >= m.config.MaxIter {
			errors.Warn(errors.NewConvergenceWarning("SLM", m.state.Iterations(),
				"max_iter reached before the relative change fell below tol"))
			return nil
		}

		wOld, bOld, fOld := append([]float64(nil), m.w...), m.bias, m.factor
		m.bias = fc.sweepLinear(m.w, m.bias, r)

		stalled := false
		if m.config.RankM > 0 {
			next, used, err := fc.greedyStep(m.factor, r, m.nextID)
			m.nextID += used
			if err != nil {
				stalled = true
			} else {
				m.factor = next
			}
		}
		m.state.AddIterations(1)

		r = fc.residual(m.w, m.bias, m.factor)
		loss := meanSquare(r)
		if err := errors.CheckScalar("SLM.Fit", loss, m.state.Iterations()); err != nil {
			return err
		}
		m.lossHistory = append(m.lossHistory, loss)
		m.lastRelChange = relativeChange(wOld, bOld, fOld, m.w, m.bias, m.factor)

		level("Iteration finished",
			log.IterationKey, m.state.Iterations(),
			log.LossKey, loss,
			log.RelChangeKey, m.lastRelChange,
			log.RankKey, m.factor.Rank(),
		)

		if stalled {
			m.stalled = true
			m.state.Advance(model.Converged)
			errors.Warn(errors.NewConvergenceStallWarning("SLM", m.state.Iterations(), nMoreIter-done-1))
			return nil
		}
		if m.lastRelChange < m.config.Tol {
			m.state.Advance(model.Converged)
			logger.Info("Converged",
				log.IterationKey, m.state.Iterations(),
				log.RelChangeKey, m.lastRelChange,
			)
			return nil
		}
	}
	return nil
}

// Predict returns bias + Xw + xᵀMx for every row of X.
func (m *SLM) Predict(X mat.Matrix) (pred *mat.VecDense, err error) {
	defer errors.Recover(&err, "SLM.Predict")

	csr, err := asCSR("SLM.Predict", X)
	if err != nil {
		return nil, err
	}
	if err := m.state.RequireFitted("SLM", "Predict"); err != nil {
		return nil, err
	}
	n, d := csr.Dims()
	if err := m.state.RequireFeatures("SLM.Predict", d); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "SLM.Predict")
	}

	out, err := EvaluateDiagFree(m.factor, csr)
	if err != nil {
		return nil, err
	}
	lin := csr.MulVec(nil, m.w)
	for i := range out {
		out[i] += m.bias + lin[i]
	}
	return mat.NewVecDense(n, out), nil
}

// Score returns the coefficient of determination R² of the prediction.
func (m *SLM) Score(X mat.Matrix, y mat.Vector) (float64, error) {
	pred, err := m.Predict(X)
	if err != nil {
		return 0, err
	}
	score, err := metrics.R2Score(y, pred)
	if err != nil {
		return 0, err
	}
	m.logger.Debug("Score computed",
		log.OperationKey, log.OperationScore,
		log.R2ScoreKey, score,
	)
	return score, nil
}

// Reset discards every fitted parameter, the counters and the cache.
func (m *SLM) Reset() {
	m.state.Reset()
	m.w = nil
	m.bias = 0
	m.factor = nil
	m.nextID = 0
	m.yMin, m.yMax = 0, 0
	m.stalled = false
	m.lossHistory = nil
	m.lastRelChange = 0
	m.cache.Clear()
	m.rng = rand.New(rand.NewPCG(m.config.RandomState, seedStream))
}

// GetParams returns the hyperparameters keyed by their param names.
func (m *SLM) GetParams() map[string]interface{} {
	return m.config.Params()
}

// SetParams updates hyperparameters by param name. It is rejected once the
// model has been shaped; call Reset first.
func (m *SLM) SetParams(params map[string]interface{}) error {
	if m.state.IsFitted() {
		return errors.NewInvalidConfigurationError("params", "cannot change hyperparameters of a fitted model, call Reset first", params)
	}
	cfg, err := m.config.Merge(params)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	m.rebuild()
	return nil
}

// Config returns a copy of the hyperparameters.
func (m *SLM) Config() Config { return m.config }

// Bias returns the intercept.
func (m *SLM) Bias() float64 { return m.bias }

// Coef returns a copy of the linear coefficients w.
func (m *SLM) Coef() []float64 {
	return append([]float64(nil), m.w...)
}

// Factor returns a deep copy of the second-order factor, or nil before Fit.
func (m *SLM) Factor() *Factor {
	if m.factor == nil {
		return nil
	}
	return m.factor.Clone()
}

// NIterations returns the number of greedy iterations run so far.
func (m *SLM) NIterations() int { return m.state.Iterations() }

// NInitIterations returns the number of initialization rounds run.
func (m *SLM) NInitIterations() int { return m.state.InitIterations() }

// Phase returns the fitting phase.
func (m *SLM) Phase() model.Phase { return m.state.Phase() }

// Converged reports whether fitting stopped on the tolerance.
func (m *SLM) Converged() bool {
	return m.state.Phase() == model.Converged && !m.stalled
}

// Stalled reports whether fitting stopped because no greedy step improved
// the objective.
func (m *SLM) Stalled() bool { return m.stalled }

// LossHistory returns the training MSE after each greedy iteration.
func (m *SLM) LossHistory() []float64 {
	return append([]float64(nil), m.lossHistory...)
}

// CacheStats returns the aggregate cache hit and miss counts.
func (m *SLM) CacheStats() (hits, misses uint64) { return m.cache.Stats() }

func (m *SLM) lastLoss() float64 {
	if len(m.lossHistory) == 0 {
		return math.NaN()
	}
	return m.lossHistory[len(m.lossHistory)-1]
}

// vectorData returns the contents of y, aliasing the storage of a
// contiguous *mat.VecDense.
func vectorData(y mat.Vector) []float64 {
	if v, ok := y.(*mat.VecDense); ok {
		raw := v.RawVector()
		if raw.Inc == 1 {
			return raw.Data[:raw.N]
		}
	}
	out := make([]float64, y.Len())
	for i := range out {
		out[i] = y.AtVec(i)
	}
	return out
}

func meanSquare(r []float64) float64 {
	if len(r) == 0 {
		return 0
	}
	return floats.Dot(r, r) / float64(len(r))
}

func linearChange(wOld []float64, bOld float64, w []float64, b float64) float64 {
	db := b - bOld
	num := floats.Distance(w, wOld, 2)
	num = math.Sqrt(num*num + db*db)
	den := math.Sqrt(floats.Dot(w, w) + b*b)
	return ratio(num, den)
}

// relativeChange is ‖Δθ‖/‖θ‖ over (w, bias, M).
func relativeChange(wOld []float64, bOld float64, fOld *Factor, w []float64, b float64, f *Factor) float64 {
	dw := floats.Distance(w, wOld, 2)
	db := b - bOld
	dm := f.FrobeniusDistance(fOld)
	num := math.Sqrt(dw*dw + db*db + dm*dm)
	fm := f.FrobeniusNorm()
	den := math.Sqrt(floats.Dot(w, w) + b*b + fm*fm)
	return ratio(num, den)
}

func ratio(num, den float64) float64 {
	switch {
	case num == 0:
		return 0
	case den == 0:
		return math.Inf(1)
	default:
		return num / den
	}
}
