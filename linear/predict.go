package linear

import (
	"fmt"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/core/numeric"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/preprocessing"
)

// PredictSimple は単回帰モデルで 1 点を予測する。入力長は 1 でなければならない。
func PredictSimple(p *model.LinearParams, input []float64) (float64, error) {
	if p == nil {
		return 0, errors.NewValidationError("parameters.linear", "missing linear parameters", nil)
	}
	if len(input) != 1 {
		return 0, errors.NewValidationError("input", "linear model expects exactly 1 feature", len(input))
	}
	return p.Slope*input[0] + p.Intercept, nil
}

// PredictMultivariate は多変量回帰モデルで 1 点を予測する
//
// 正規化パラメータがある場合は normalizeInput → 内積 → (フラグが true なら) 逆変換。
// 正規化パラメータの無い旧形式のモデルは生の入力に係数をそのまま適用する。
func PredictMultivariate(p *model.MultivariateParams, input []float64) (float64, error) {
	if p == nil || len(p.Coefficients) == 0 {
		return 0, errors.NewValidationError("parameters.multivariate", "missing coefficients", nil)
	}
	if want := len(p.Coefficients) - 1; len(input) != want {
		return 0, errors.NewValidationError("input", fmt.Sprintf("multivariate model expects %d features", want), len(input))
	}

	if p.Normalization == nil {
		return numeric.Dot(p.Weights(), input) + p.Intercept(), nil
	}

	x, err := preprocessing.NormalizeInput(input, p.Normalization)
	if err != nil {
		return 0, err
	}
	return scoreNormalized(p, x), nil
}

// scoreNormalized は正規化済みの入力を採点する（入力長は検証済み）
func scoreNormalized(p *model.MultivariateParams, x []float64) float64 {
	y := numeric.Dot(p.Weights(), x) + p.Intercept()
	if p.Normalization != nil && p.Normalization.TargetWasNormalized {
		y = preprocessing.Denormalize(y, p.Normalization)
	}
	return y
}
