package neural

import (
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

// Config はニューラルネットワークの学習設定
type Config struct {
	HiddenLayerSizes []int   `yaml:"hiddenLayers"`
	Epochs           int     `yaml:"epochs"`
	BatchSize        int     `yaml:"batchSize"`
	LearningRate     float64 `yaml:"learningRate"`
	DropoutRate      float64 `yaml:"dropout"`
	ValidationSplit  float64 `yaml:"validationSplit"`
	Seed             int64   `yaml:"seed"`
}

// DefaultConfig は既定の学習設定を返す
func DefaultConfig() Config {
	return Config{
		HiddenLayerSizes: []int{64, 32},
		Epochs:           100,
		BatchSize:        32,
		LearningRate:     0.01,
		DropoutRate:      0.2,
		ValidationSplit:  0.2,
		Seed:             42,
	}
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	if len(c.HiddenLayerSizes) == 0 {
		return errors.NewValidationError("hiddenLayers", "at least one hidden layer is required", c.HiddenLayerSizes)
	}
	for _, n := range c.HiddenLayerSizes {
		if n < 1 {
			return errors.NewValidationError("hiddenLayers", "layer size must be positive", n)
		}
	}
	if c.Epochs < 1 {
		return errors.NewValidationError("epochs", "must be positive", c.Epochs)
	}
	if c.BatchSize < 1 {
		return errors.NewValidationError("batchSize", "must be positive", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.NewValidationError("learningRate", "must be positive", c.LearningRate)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.NewValidationError("dropout", "must be in [0, 1)", c.DropoutRate)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errors.NewValidationError("validationSplit", "must be in [0, 1)", c.ValidationSplit)
	}
	return nil
}

// Option is a function that configures the neural Trainer
type Option func(*Trainer)

// WithConfig replaces the training configuration
func WithConfig(cfg Config) Option {
	return func(t *Trainer) {
		t.cfg = cfg
	}
}

// WithBackend sets the artifact backend used by Save
func WithBackend(b Backend) Option {
	return func(t *Trainer) {
		if b != nil {
			t.backend = b
		}
	}
}

// WithLossPlot enables rendering loss.png into the artifact directory
func WithLossPlot(enabled bool) Option {
	return func(t *Trainer) {
		t.plotLoss = enabled
	}
}

// WithLogger replaces the component logger
func WithLogger(l log.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}
