package linear

import (
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

// defaultParallelThreshold 以下の行数では計画行列の構築と学習データの採点を逐次処理する
const defaultParallelThreshold = 1000

type options struct {
	assumeNormalized  *bool
	parallelThreshold int
	logger            log.Logger
}

func newOptions(component string, opts []Option) options {
	o := options{
		parallelThreshold: defaultParallelThreshold,
		logger:            log.GetLoggerWithName(component),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option is a function that configures a trainer
type Option func(*options)

// WithAssumeNormalized states whether the features are already z-scored.
// It bypasses the "looks normalized" heuristic of the multivariate trainer.
func WithAssumeNormalized(normalized bool) Option {
	return func(o *options) {
		o.assumeNormalized = &normalized
	}
}

// WithParallelThreshold sets the row count above which design matrix
// construction and training-set scoring run in parallel
func WithParallelThreshold(rows int) Option {
	return func(o *options) {
		o.parallelThreshold = rows
	}
}

// WithLogger replaces the component logger
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
