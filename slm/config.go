package slm

import (
	"fmt"
	"math"

	"github.com/go-viper/mapstructure/v2"

	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// SolverGreedy is the only supported solver_algorithm.
const SolverGreedy = "Greedy"

// Config holds the hyperparameters of an SLM. The param tags are the names
// accepted by GetParams and SetParams.
type Config struct {
	// RankM is the target rank k of the bilinear factor. 0 disables the
	// second-order term.
	RankM int `param:"rank_M"`
	// MaxIter caps greedy iterations across the estimator's lifetime.
	// 0 means no ceiling.
	MaxIter int `param:"max_iter"`
	// Tol is the relative parameter change below which fitting converges.
	Tol float64 `param:"tol"`
	// MaxInitIter caps the rounds of the initialization phase.
	MaxInitIter int `param:"max_init_iter"`
	// InitTol is the relative change that ends the initialization phase.
	InitTol float64 `param:"init_tol"`
	// LambdaW is the ridge strength on w.
	LambdaW float64 `param:"lambda_w"`
	// LambdaM is the ridge strength on the atom weights of the factor.
	LambdaM float64 `param:"lambda_M"`
	// UsingCache enables the cache of per-matrix aggregates.
	UsingCache bool `param:"using_cache"`
	// SolverAlgorithm selects the update strategy.
	SolverAlgorithm string `param:"solver_algorithm"`
	// LearningRate scales each greedy step. +Inf takes the closed-form step.
	LearningRate float64 `param:"learning_rate"`
	// DiagZero forces the diagonal of M to zero.
	DiagZero bool `param:"diag_zero"`
	// TruncateY clips labels to the range observed on the first Fit.
	TruncateY bool `param:"truncate_y"`
	// RandomState seeds the start vectors of the eigen solvers.
	RandomState uint64 `param:"random_state"`
	// PowerIter caps the power iterations per greedy direction.
	PowerIter int `param:"power_iter"`
	// CacheCapacity bounds the number of cached entries.
	CacheCapacity int `param:"cache_capacity"`
	// Verbose logs every iteration at info level instead of debug.
	Verbose bool `param:"verbose"`
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		RankM:           3,
		MaxIter:         100,
		Tol:             1e-6,
		MaxInitIter:     20,
		InitTol:         1e-2,
		LambdaW:         0,
		LambdaM:         0,
		UsingCache:      true,
		SolverAlgorithm: SolverGreedy,
		LearningRate:    math.Inf(1),
		DiagZero:        true,
		TruncateY:       false,
		RandomState:     0,
		PowerIter:       50,
		CacheCapacity:   256,
	}
}

// Validate checks the hyperparameters and returns an InvalidConfigurationError
// for the first invalid one.
func (c Config) Validate() error {
	switch {
	case c.RankM < 0:
		return errors.NewInvalidConfigurationError("rank_M", "must be non-negative", c.RankM)
	case c.MaxIter < 0:
		return errors.NewInvalidConfigurationError("max_iter", "must be non-negative", c.MaxIter)
	case c.MaxInitIter < 0:
		return errors.NewInvalidConfigurationError("max_init_iter", "must be non-negative", c.MaxInitIter)
	case !nonNegative(c.Tol):
		return errors.NewInvalidConfigurationError("tol", "must be a non-negative number", c.Tol)
	case !nonNegative(c.InitTol):
		return errors.NewInvalidConfigurationError("init_tol", "must be a non-negative number", c.InitTol)
	case !nonNegative(c.LambdaW) || math.IsInf(c.LambdaW, 0):
		return errors.NewInvalidConfigurationError("lambda_w", "must be a finite non-negative number", c.LambdaW)
	case !nonNegative(c.LambdaM) || math.IsInf(c.LambdaM, 0):
		return errors.NewInvalidConfigurationError("lambda_M", "must be a finite non-negative number", c.LambdaM)
	case !validLearningRate(c.LearningRate):
		return errors.NewInvalidConfigurationError("learning_rate", "must be in (0, 1] or +Inf", c.LearningRate)
	case c.SolverAlgorithm != SolverGreedy:
		return errors.NewInvalidConfigurationError("solver_algorithm", fmt.Sprintf("unknown solver, supported: %q", SolverGreedy), c.SolverAlgorithm)
	case !c.DiagZero:
		return errors.NewInvalidConfigurationError("diag_zero", "the Greedy solver only supports a zero diagonal", c.DiagZero)
	case c.PowerIter < 1:
		return errors.NewInvalidConfigurationError("power_iter", "must be positive", c.PowerIter)
	case c.CacheCapacity < 1:
		return errors.NewInvalidConfigurationError("cache_capacity", "must be positive", c.CacheCapacity)
	}
	return nil
}

func nonNegative(v float64) bool { return !math.IsNaN(v) && v >= 0 }

func validLearningRate(lr float64) bool {
	return math.IsInf(lr, 1) || (lr > 0 && lr <= 1)
}

// step returns the blend factor applied to a closed-form update.
func (c Config) step() float64 {
	if math.IsInf(c.LearningRate, 1) {
		return 1
	}
	return c.LearningRate
}

// Params flattens the config into the param-tag keyed map.
func (c Config) Params() map[string]interface{} {
	out := map[string]interface{}{}
	// struct -> map never fails for these field types
	_ = decodeParams(c, &out)
	return out
}

// Merge returns a copy of c with params applied. Unknown keys and values that
// cannot be converted are InvalidConfiguration errors.
func (c Config) Merge(params map[string]interface{}) (Config, error) {
	merged := c
	if err := decodeParams(params, &merged); err != nil {
		return c, errors.NewInvalidConfigurationError("params", err.Error(), params)
	}
	return merged, nil
}

func decodeParams(input, result interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "param",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
