package slm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		param  string
	}{
		{"default is valid", func(*Config) {}, ""},
		{"learning rate in (0,1]", func(c *Config) { c.LearningRate = 0.3 }, ""},
		{"rank zero", func(c *Config) { c.RankM = 0 }, ""},
		{"negative rank", func(c *Config) { c.RankM = -1 }, "rank_M"},
		{"negative max_iter", func(c *Config) { c.MaxIter = -1 }, "max_iter"},
		{"negative max_init_iter", func(c *Config) { c.MaxInitIter = -2 }, "max_init_iter"},
		{"NaN tol", func(c *Config) { c.Tol = math.NaN() }, "tol"},
		{"negative init_tol", func(c *Config) { c.InitTol = -1 }, "init_tol"},
		{"negative lambda_w", func(c *Config) { c.LambdaW = -0.1 }, "lambda_w"},
		{"infinite lambda_M", func(c *Config) { c.LambdaM = math.Inf(1) }, "lambda_M"},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }, "learning_rate"},
		{"learning rate above one", func(c *Config) { c.LearningRate = 2 }, "learning_rate"},
		{"negative infinite learning rate", func(c *Config) { c.LearningRate = math.Inf(-1) }, "learning_rate"},
		{"unknown solver", func(c *Config) { c.SolverAlgorithm = "ALS" }, "solver_algorithm"},
		{"non zero diagonal with greedy", func(c *Config) { c.DiagZero = false }, "diag_zero"},
		{"zero power_iter", func(c *Config) { c.PowerIter = 0 }, "power_iter"},
		{"zero cache capacity", func(c *Config) { c.CacheCapacity = 0 }, "cache_capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.param == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
			var cfgErr *errors.InvalidConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.param, cfgErr.ParamName)
		})
	}
}

func TestConfig_ParamsRoundTrip(t *testing.T) {
	params := DefaultConfig().Params()
	assert.Equal(t, 3, params["rank_M"])
	assert.Equal(t, "Greedy", params["solver_algorithm"])
	assert.True(t, math.IsInf(params["learning_rate"].(float64), 1))

	cfg, err := DefaultConfig().Merge(map[string]interface{}{
		"rank_M":        "5",
		"learning_rate": 0.5,
		"truncate_y":    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RankM)
	assert.Equal(t, 0.5, cfg.LearningRate)
	assert.True(t, cfg.TruncateY)

	_, err = DefaultConfig().Merge(map[string]interface{}{"no_such_param": 1})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
}
