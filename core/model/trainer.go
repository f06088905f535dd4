package model

import "time"

// ModelSpec は学習器に渡す、モデル本体以外の識別情報
type ModelSpec struct {
	ID        string
	Name      string
	CreatedAt time.Time
	// ArtifactDir は成果物を書き出すディレクトリ（ニューラルネットワークのみ使用）
	ArtifactDir string
}

// Trainer は TrainingSet から TrainedModel を構築する
//
// 実装は入力の TrainingSet を変更してはならない。
type Trainer interface {
	Kind() Kind
	Train(set *TrainingSet, spec ModelSpec) (*TrainedModel, error)
}

// NewTrainedModel は学習結果から TrainedModel を組み立てる
//
// Accuracy には学習データ上の R² をそのまま入れる。
func NewTrainedModel(kind Kind, set *TrainingSet, spec ModelSpec, params Parameters, metrics TrainingMetrics) *TrainedModel {
	return &TrainedModel{
		ID:           spec.ID,
		Name:         spec.Name,
		Kind:         kind,
		FeatureNames: set.Names(),
		TargetName:   set.Target(),
		Parameters:   params,
		Metadata: Metadata{
			Accuracy:        metrics.R2,
			CreatedAt:       spec.CreatedAt,
			LastTrainedAt:   spec.CreatedAt,
			TrainingMetrics: metrics,
		},
	}
}
