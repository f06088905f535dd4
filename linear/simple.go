// Package linear は単回帰と多変量回帰の学習器を提供する。
package linear

import (
	"math"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/core/parallel"
	"github.com/YuminosukeSato/agriwarn/metrics"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

// SimpleTrainer は 1 特徴量の最小二乗回帰を閉形式で解く
type SimpleTrainer struct {
	opts options
}

var _ model.Trainer = (*SimpleTrainer)(nil)

// NewSimpleTrainer は新しい SimpleTrainer を作成する
func NewSimpleTrainer(opts ...Option) *SimpleTrainer {
	return &SimpleTrainer{opts: newOptions("linear.simple", opts)}
}

// Kind implements model.Trainer.
func (t *SimpleTrainer) Kind() model.Kind {
	return model.Linear
}

// Train は slope = (nΣxy − ΣxΣy)/(nΣx² − (Σx)²), intercept = (Σy − slope·Σx)/n を計算する
//
// 正規化は行わない。x の分散が 0 の場合は ValidationError。
func (t *SimpleTrainer) Train(set *model.TrainingSet, spec model.ModelSpec) (*model.TrainedModel, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.NumFeatures() != 1 {
		return nil, errors.NewValidationError("features", "linear regression requires exactly 1 feature per row", set.NumFeatures())
	}
	if err := set.RequireMinSamples(2); err != nil {
		return nil, err
	}

	n := float64(set.Len())
	var sumX, sumY, sumXY, sumXX float64
	for i, row := range set.Features {
		x, y := row[0], set.Targets[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom <= 1e-12*math.Max(1, n*sumXX) {
		return nil, errors.NewValidationError("features", "feature has zero variance", sumX/n)
	}

	params := &model.LinearParams{
		Slope: (n*sumXY - sumX*sumY) / denom,
	}
	params.Intercept = (sumY - params.Slope*sumX) / n
	if err := errors.CheckNumericalStability("SimpleTrainer.Train", []float64{params.Slope, params.Intercept}, 0); err != nil {
		return nil, err
	}

	preds := parallel.MapRows(set.Len(), t.opts.parallelThreshold, func(i int) float64 {
		return params.Slope*set.Features[i][0] + params.Intercept
	})
	reg, err := metrics.Evaluate(set.Targets, preds)
	if err != nil {
		return nil, err
	}

	t.opts.logger.Debug("Linear regression fitted",
		log.ModelIDKey, spec.ID,
		log.SamplesKey, set.Len(),
		log.R2ScoreKey, reg.R2,
	)

	return model.NewTrainedModel(model.Linear, set, spec,
		model.Parameters{Linear: params},
		model.TrainingMetrics{MSE: reg.MSE, RMSE: reg.RMSE, R2: reg.R2},
	), nil
}
