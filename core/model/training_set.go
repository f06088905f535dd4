package model

import (
	"strconv"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// TrainingSet は学習器への表形式の入力
//
// 欠損値や不正な行はデータ取り込み側で除去済みであることを前提とする。
type TrainingSet struct {
	// Features は行ごとの特徴量ベクトル（全行同じ長さ、長さ 1 以上）
	Features [][]float64 `json:"features"`
	// Targets は目的変数（len(Features) と同じ長さ）
	Targets []float64 `json:"targets"`
	// FeatureNames は表示・式の描画用のラベル
	FeatureNames []string `json:"featureNames,omitempty"`
	// TargetName は目的変数のラベル
	TargetName string `json:"targetName,omitempty"`
}

// Len は行数を返す
func (s *TrainingSet) Len() int {
	return len(s.Targets)
}

// NumFeatures は特徴量の列数を返す（空の場合は 0）
func (s *TrainingSet) NumFeatures() int {
	if len(s.Features) == 0 {
		return 0
	}
	return len(s.Features[0])
}

// Column は j 列目のコピーを返す
func (s *TrainingSet) Column(j int) []float64 {
	col := make([]float64, len(s.Features))
	for i, row := range s.Features {
		col[i] = row[j]
	}
	return col
}

// Validate は不変条件を検証する
func (s *TrainingSet) Validate() error {
	if s == nil || len(s.Features) == 0 {
		return errors.NewValidationError("features", "training set is empty", 0)
	}
	if len(s.Features) != len(s.Targets) {
		return errors.NewValidationError("targets", "targets length must match features length", len(s.Targets))
	}
	width := len(s.Features[0])
	if width < 1 {
		return errors.NewValidationError("features", "rows must have at least one feature", width)
	}
	for i, row := range s.Features {
		if len(row) != width {
			return errors.NewValidationError("features", "all rows must have the same length", i)
		}
	}
	if len(s.FeatureNames) > 0 && len(s.FeatureNames) != width {
		return errors.NewValidationError("featureNames", "feature names must match row width", len(s.FeatureNames))
	}
	return nil
}

// RequireMinSamples は行数が min 以上であることを検証する
func (s *TrainingSet) RequireMinSamples(min int) error {
	if s.Len() < min {
		return errors.NewValidationError("features", "training set too small", s.Len())
	}
	return nil
}

// Names は FeatureNames を返す。未指定の場合は x0, x1, ... を生成する。
func (s *TrainingSet) Names() []string {
	if len(s.FeatureNames) > 0 {
		out := make([]string, len(s.FeatureNames))
		copy(out, s.FeatureNames)
		return out
	}
	out := make([]string, s.NumFeatures())
	for i := range out {
		out[i] = "x" + strconv.Itoa(i)
	}
	return out
}

// Target は TargetName を返す。未指定の場合は "y"。
func (s *TrainingSet) Target() string {
	if s.TargetName == "" {
		return "y"
	}
	return s.TargetName
}
