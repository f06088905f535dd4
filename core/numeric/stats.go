// Package numeric は学習器が共有する数値計算の基本処理を提供する。
package numeric

import (
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ColumnStats は各列の平均と母標準偏差を計算する
//
// 標準偏差が 0 の列は 1 に置き換える。下流の z-score 変換でゼロ除算を
// 起こさないための意図的な例外であり、厳密な統計量ではない。
//
// パラメータ:
//   - rows: 行ごとの特徴量ベクトル（全行同じ長さ）
//
// 戻り値:
//   - means, stds: 列ごとの平均と標準偏差
//   - error: 空データまたは行の長さが揃っていない場合
func ColumnStats(rows [][]float64) (means, stds []float64, err error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, nil, errors.NewModelError("ColumnStats", "empty data", errors.ErrEmptyData)
	}

	cols := len(rows[0])
	means = make([]float64, cols)
	stds = make([]float64, cols)
	column := make([]float64, len(rows))

	for j := 0; j < cols; j++ {
		for i, row := range rows {
			if len(row) != cols {
				return nil, nil, errors.NewValidationError("rows", "all rows must have the same length", len(row))
			}
			column[i] = row[j]
		}
		means[j], stds[j] = VectorStats(column)
	}

	return means, stds, nil
}

// VectorStats は 1 本のベクトルの平均と母標準偏差を返す（標準偏差 0 は 1 に置換）
func VectorStats(values []float64) (mean, std float64) {
	mean, std = stat.PopMeanStdDev(values, nil)
	if std == 0 {
		std = 1
	}
	return mean, std
}

// Dot は 2 つのベクトルの内積を返す。長さは呼び出し側で検証済みとする。
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
