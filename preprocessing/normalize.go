package preprocessing

import (
	"math"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/core/numeric"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// 「正規化済みに見える」判定の閾値
const (
	normalizedMeanLimit = 0.5
	normalizedStdLow    = 0.8
	normalizedStdHigh   = 1.2
)

// Normalize は特徴量と目的変数を z-score 変換する
//
// 入力の TrainingSet は変更しない。返すパラメータの TargetWasNormalized は true。
//
// 戻り値:
//   - features, targets: 変換後のデータ（新しいスライス）
//   - params: 推論時に同じ変換を再現するためのパラメータ
//   - error: TrainingSet が不正な場合
func Normalize(set *model.TrainingSet) ([][]float64, []float64, model.NormalizationParams, error) {
	if err := set.Validate(); err != nil {
		return nil, nil, model.NormalizationParams{}, err
	}

	scaler := NewStandardScaler()
	if err := scaler.Fit(set.Features); err != nil {
		return nil, nil, model.NormalizationParams{}, err
	}
	targetMean, targetStd := numeric.VectorStats(set.Targets)

	params := model.NormalizationParams{
		FeatureMeans:        scaler.Mean,
		FeatureStds:         scaler.Scale,
		TargetMean:          targetMean,
		TargetStd:           targetStd,
		TargetWasNormalized: true,
	}

	features := make([][]float64, len(set.Features))
	for i, row := range set.Features {
		// 行の長さは Validate 済み
		features[i], _ = scaler.TransformRow(row)
	}
	targets := make([]float64, len(set.Targets))
	for i, y := range set.Targets {
		targets[i] = NormalizeTarget(y, &params)
	}

	return features, targets, params, nil
}

// IdentityParams は「既に正規化済み」として学習したモデル用の恒等変換を返す
//
// 特徴量は平均 0・標準偏差 1 で素通しし、出力の逆変換も行わない。
func IdentityParams(width int) model.NormalizationParams {
	means := make([]float64, width)
	stds := make([]float64, width)
	for j := range stds {
		stds[j] = 1
	}
	return model.NormalizationParams{
		FeatureMeans: means,
		FeatureStds:  stds,
		TargetStd:    1,
	}
}

// NormalizeInput は保存済みパラメータで予測入力を変換する
func NormalizeInput(vec []float64, params *model.NormalizationParams) ([]float64, error) {
	if params == nil {
		return nil, errors.NewValidationError("normalization", "model has no normalization parameters", nil)
	}
	if len(params.FeatureStds) != len(params.FeatureMeans) {
		return nil, errors.NewValidationError("normalization", "corrupt normalization parameters", len(params.FeatureStds))
	}
	return ScalerFromParams(params).TransformRow(vec)
}

// Denormalize は正規化空間の予測値を元のスケールに戻す
//
// TargetWasNormalized の判定は呼び出し側で行う。
func Denormalize(value float64, params *model.NormalizationParams) float64 {
	return value*params.TargetStd + params.TargetMean
}

// NormalizeTarget は Denormalize の逆変換
func NormalizeTarget(y float64, params *model.NormalizationParams) float64 {
	return (y - params.TargetMean) / params.TargetStd
}

// LooksNormalized は列統計が既に正規化されたデータのものに見えるかを判定する
//
// すべての列で |平均| < 0.5 かつ 0.8 < 標準偏差 < 1.2 の場合に true。
// 小さく偏りのない生データでも true になりうるヒューリスティックである。
func LooksNormalized(means, stds []float64) bool {
	if len(means) == 0 || len(means) != len(stds) {
		return false
	}
	for j := range means {
		if math.Abs(means[j]) >= normalizedMeanLimit {
			return false
		}
		if stds[j] <= normalizedStdLow || stds[j] >= normalizedStdHigh {
			return false
		}
	}
	return true
}
