// Package metrics は回帰モデルの評価指標を計算する。
//
// 指標はすべて目的変数の元のスケールで計算すること。正規化空間の値を
// 渡すと MSE/RMSE の単位が変わり、モデル間で比較できなくなる。
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// Regression は学習データ上の回帰指標
type Regression struct {
	MSE  float64
	RMSE float64
	MAE  float64
	R2   float64
}

func checkLengths(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.IsEmpty() {
		return 0, errors.NewModelError(op, "empty vector", errors.ErrEmptyData)
	}
	n := yTrue.Len()
	if yPred.IsEmpty() || yPred.Len() != n {
		return 0, errors.NewValidationError("yPred", "length must match yTrue", n)
	}
	return n, nil
}

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkLengths("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}

	return sum / float64(n), nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkLengths("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MAE = (1/n) * Σ|yTrue - yPred|
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}

	return sum / float64(n), nil
}

// R2Score は決定係数（R²）を計算する
//
// 値はクリップしない（悪いモデルでは負になる）。yTrue の分散が 0 の場合は
// 残差も 0 なら 1、そうでなければ 0 を返し、UndefinedMetricWarning を発行する。
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkLengths("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yMean float64
	for i := 0; i < n; i++ {
		yMean += yTrue.AtVec(i)
	}
	yMean /= float64(n)

	// 全変動（TSS）と残差変動（RSS）
	var tss, rss float64
	for i := 0; i < n; i++ {
		yTrueVal := yTrue.AtVec(i)
		yPredVal := yPred.AtVec(i)

		tss += (yTrueVal - yMean) * (yTrueVal - yMean)
		rss += (yTrueVal - yPredVal) * (yTrueVal - yPredVal)
	}

	if tss == 0 {
		score := 0.0
		if rss == 0 {
			score = 1.0
		}
		errors.Warn(errors.NewUndefinedMetricWarning("R2Score", "total sum of squares is zero", score))
		return score, nil
	}

	return 1 - rss/tss, nil
}

// Evaluate は実測値と予測値から回帰指標をまとめて計算する
//
// パラメータ:
//   - actual: 元スケールの実測値
//   - predicted: 予測経路を通した元スケールの予測値
//
// 戻り値:
//   - Regression: MSE, RMSE, MAE, R²
//   - error: 空または長さが一致しない場合、指標が有限でない場合
func Evaluate(actual, predicted []float64) (Regression, error) {
	if len(actual) == 0 {
		return Regression{}, errors.NewModelError("Evaluate", "empty vector", errors.ErrEmptyData)
	}
	if len(predicted) != len(actual) {
		return Regression{}, errors.NewValidationError("predicted", "length must match actual", len(predicted))
	}

	yTrue := mat.NewVecDense(len(actual), actual)
	yPred := mat.NewVecDense(len(predicted), predicted)

	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	mae, err := MAE(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	r2, err := R2Score(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}

	out := Regression{MSE: mse, RMSE: math.Sqrt(mse), MAE: mae, R2: r2}
	if err := errors.CheckNumericalStability("Evaluate", []float64{out.MSE, out.MAE, out.R2}, 0); err != nil {
		return Regression{}, err
	}
	return out, nil
}
