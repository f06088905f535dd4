// Package log defines standard attribute keys for engine operations.
//
// The keys follow a hierarchical naming convention ("model.id",
// "data.samples") so logs from trainers, the registry and the dispatcher can
// be filtered uniformly.

package log

// Model and Operation Context
const (
	// ModelIDKey is the registry id of a trained model.
	ModelIDKey = "model.id"

	// ModelNameKey is the human readable model name.
	ModelNameKey = "model.name"

	// ModelKindKey is one of linear, multivariate, neural_network.
	ModelKindKey = "model.kind"

	// OperationKey specifies the operation being performed.
	// Standard values: "train", "predict", "persist", "load", "delete"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the lifecycle phase.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of rows in the training set.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of feature columns.
	FeaturesKey = "data.features"

	// BatchSizeKey indicates the size of mini-batches.
	BatchSizeKey = "data.batch_size"

	// ValidationSamplesKey is the number of rows held out for validation.
	ValidationSamplesKey = "data.validation_samples"

	// AlreadyNormalizedKey records the outcome of the normalization heuristic.
	AlreadyNormalizedKey = "data.already_normalized"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records the model accuracy (R² on the training set).
	AccuracyKey = "metrics.accuracy"

	// LossKey records a loss value during training.
	LossKey = "metrics.loss"

	// ValLossKey records the validation loss.
	ValLossKey = "metrics.val_loss"

	// MSEKey records mean squared error.
	MSEKey = "metrics.mse"

	// R2ScoreKey records R² for regression. Not clamped; may be negative.
	R2ScoreKey = "metrics.r2_score"

	// EpochKey records the current epoch number during training.
	EpochKey = "training.epoch"
)

// Prediction Context
const (
	// ConfidenceKey records prediction confidence.
	ConfidenceKey = "preds.confidence"

	// WeatherMergedKey records whether weather features were appended.
	WeatherMergedKey = "preds.weather_merged"
)

// Storage Context
const (
	// ArtifactPathKey is the file or directory of a persisted artifact.
	ArtifactPathKey = "artifact.path"

	// ArtifactFormatKey names the artifact backend (native, portable).
	ArtifactFormatKey = "artifact.format"

	// CollaboratorKey names an external collaborator (artifact_store, tracker, weather).
	CollaboratorKey = "collaborator"
)

// Error Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters
const (
	// LearningRateKey records the optimizer learning rate.
	LearningRateKey = "hyperparams.learning_rate"

	// HiddenLayersKey records the hidden layer sizes.
	HiddenLayersKey = "hyperparams.hidden_layers"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute values.
const (
	OperationTrain   = "train"
	OperationPredict = "predict"
	OperationPersist = "persist"
	OperationLoad    = "load"
	OperationDelete  = "delete"
	OperationUpload  = "upload"
	OperationTrack   = "track"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
	PhaseStartup    = "startup"
)
