// Standard attribute keys for estimator logs. Keys are hierarchical
// ("model.name", "data.samples") so log pipelines can filter by prefix.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type, e.g. "SLM".
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies one estimator instance.
	EstimatorIDKey = "estimator.id"

	// OperationKey is one of the Operation* values below.
	OperationKey = "ml.operation"

	// ComponentKey identifies the package or subsystem, e.g. "slm.cache".
	ComponentKey = "ml.component"

	// PhaseKey carries the fitting phase of the estimator state machine.
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	NNZKey      = "data.nnz"
	// FingerprintKey is the structural hash of a sparse matrix.
	FingerprintKey = "data.fingerprint"
)

// Training progress and metrics.
const (
	DurationMsKey = "perf.duration_ms"
	LossKey       = "metrics.loss"
	R2ScoreKey    = "metrics.r2_score"
	IterationKey  = "training.iteration"
	// RequestedKey is the iteration budget of one incremental fit call.
	RequestedKey = "training.requested"
	// RelChangeKey is the relative parameter change of the last iteration.
	RelChangeKey = "training.rel_change"
	RankKey      = "model.rank"
)

// Cache statistics.
const (
	CacheHitsKey   = "cache.hits"
	CacheMissesKey = "cache.misses"
	CacheKindKey   = "cache.kind"
)

// Hyperparameters.
const (
	HyperParamsKey  = "model.hyperparams"
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
)

// Standard attribute values.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationScore   = "score"
)
