package linear

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/core/numeric"
	"github.com/YuminosukeSato/agriwarn/core/parallel"
	"github.com/YuminosukeSato/agriwarn/metrics"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/preprocessing"
)

// MultivariateTrainer は正規方程式 XᵗX·w = Xᵗy で多変量回帰を解く
type MultivariateTrainer struct {
	opts options
}

var _ model.Trainer = (*MultivariateTrainer)(nil)

// NewMultivariateTrainer は新しい MultivariateTrainer を作成する
//
// 使用例:
//
//	trainer := linear.NewMultivariateTrainer(linear.WithAssumeNormalized(false))
//	m, err := trainer.Train(set, model.ModelSpec{ID: id, CreatedAt: now})
func NewMultivariateTrainer(opts ...Option) *MultivariateTrainer {
	return &MultivariateTrainer{opts: newOptions("linear.multivariate", opts)}
}

// Kind implements model.Trainer.
func (t *MultivariateTrainer) Kind() model.Kind {
	return model.Multivariate
}

// Train はモデルを学習する
//
// 特徴量が既に正規化済みと判定された場合はそのまま学習し、恒等変換と
// TargetWasNormalized=false を保存する。それ以外は特徴量と目的変数を
// z-score 変換してから学習し、完全な統計量と TargetWasNormalized=true を保存する。
func (t *MultivariateTrainer) Train(set *model.TrainingSet, spec model.ModelSpec) (*model.TrainedModel, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if err := set.RequireMinSamples(2); err != nil {
		return nil, err
	}

	means, stds, err := numeric.ColumnStats(set.Features)
	if err != nil {
		return nil, err
	}

	alreadyNormalized := preprocessing.LooksNormalized(means, stds)
	if t.opts.assumeNormalized != nil {
		alreadyNormalized = *t.opts.assumeNormalized
	} else if alreadyNormalized {
		errors.Warn(errors.NewNormalizationHeuristicWarning(means, stds))
	}

	var (
		features = set.Features
		targets  = set.Targets
		norm     model.NormalizationParams
	)
	if alreadyNormalized {
		norm = preprocessing.IdentityParams(set.NumFeatures())
	} else {
		features, targets, norm, err = preprocessing.Normalize(set)
		if err != nil {
			return nil, err
		}
	}

	coefficients, err := t.solve(features, targets)
	if err != nil {
		return nil, err
	}

	params := &model.MultivariateParams{Coefficients: coefficients, Normalization: &norm}

	// 学習データは予測と同じ経路（正規化 → 内積 → 逆変換）で元スケールに戻して採点する
	scaled := features
	preds := parallel.MapRows(set.Len(), t.opts.parallelThreshold, func(i int) float64 {
		return scoreNormalized(params, scaled[i])
	})
	reg, err := metrics.Evaluate(set.Targets, preds)
	if err != nil {
		return nil, err
	}

	t.opts.logger.Debug("Multivariate regression fitted",
		log.ModelIDKey, spec.ID,
		log.SamplesKey, set.Len(),
		log.FeaturesKey, set.NumFeatures(),
		log.AlreadyNormalizedKey, alreadyNormalized,
		log.R2ScoreKey, reg.R2,
	)

	return model.NewTrainedModel(model.Multivariate, set, spec,
		model.Parameters{Multivariate: params},
		model.TrainingMetrics{MSE: reg.MSE, RMSE: reg.RMSE, R2: reg.R2},
	), nil
}

// solve は末尾に 1 の列を付けた計画行列で正規方程式を解き、切片を末尾に持つ係数を返す
func (t *MultivariateTrainer) solve(features [][]float64, targets []float64) ([]float64, error) {
	r, c := len(features), len(features[0])

	design := mat.NewDense(r, c+1, nil)
	parallel.ParallelizeWithThreshold(r, t.opts.parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < c; j++ {
				design.Set(i, j, features[i][j])
			}
			design.Set(i, c, 1.0) // 切片項
		}
	})
	y := mat.NewVecDense(r, append([]float64(nil), targets...))

	var xtx mat.Dense
	xtx.Mul(design.T(), design)

	var xty mat.VecDense
	xty.MulVec(design.T(), y)

	w, err := numeric.SolveLinearSystem(&xtx, &xty)
	if err != nil {
		return nil, errors.NewModelError("MultivariateTrainer.Train", "solve normal equations", err)
	}

	coefficients := make([]float64, w.Len())
	for i := range coefficients {
		coefficients[i] = w.AtVec(i)
	}
	return coefficients, nil
}
