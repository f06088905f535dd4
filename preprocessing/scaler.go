// Package preprocessing は学習と推論で共有する z-score 正規化を提供する。
//
// 学習時に計算した平均と標準偏差は model.NormalizationParams として
// モデルに保存され、推論時はそのパラメータだけで同じ変換を再現する。
package preprocessing

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/core/numeric"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// StandardScaler は列ごとの z-score 変換
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（0 の列は 1）
	Scale []float64

	fitted bool
}

// NewStandardScaler は未学習のStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	err := scaler.Fit(set.Features)
//	X, err := scaler.Transform(mat.NewDense(r, c, data))
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// ScalerFromParams は保存済みの正規化パラメータからスケーラーを復元する
func ScalerFromParams(p *model.NormalizationParams) *StandardScaler {
	return &StandardScaler{
		Mean:   append([]float64(nil), p.FeatureMeans...),
		Scale:  append([]float64(nil), p.FeatureStds...),
		fitted: true,
	}
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
//
// パラメータ:
//   - rows: 訓練データ (n_samples 行、各行 n_features)
//
// 戻り値:
//   - error: 空データ、または行の長さが揃っていない場合
func (s *StandardScaler) Fit(rows [][]float64) error {
	means, stds, err := numeric.ColumnStats(rows)
	if err != nil {
		return err
	}
	s.Mean, s.Scale, s.fitted = means, stds, true
	return nil
}

// NFeatures は特徴量の数を返す
func (s *StandardScaler) NFeatures() int {
	return len(s.Mean)
}

// TransformRow は 1 行を標準化した新しいスライスを返す
func (s *StandardScaler) TransformRow(x []float64) ([]float64, error) {
	if !s.fitted {
		return nil, errors.NewModelError("StandardScaler.TransformRow", "scaler", errors.New("scaler is not fitted"))
	}
	if len(x) != len(s.Mean) {
		return nil, errors.NewValidationError("input", fmt.Sprintf("expected %d features", len(s.Mean)), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
//
// パラメータ:
//   - X: 変換するデータ
//
// 戻り値:
//   - *mat.Dense: 標準化されたデータ
//   - error: 未学習または列数が一致しない場合
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !s.fitted {
		return nil, errors.NewModelError("StandardScaler.Transform", "scaler", errors.New("scaler is not fitted"))
	}

	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, errors.NewValidationError("X", fmt.Sprintf("expected %d columns", len(s.Mean)), c)
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.fitted {
		return "StandardScaler()"
	}
	return fmt.Sprintf("StandardScaler(n_features=%d)", len(s.Mean))
}
