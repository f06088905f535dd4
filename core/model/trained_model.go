package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// NormalizationParams は学習時の z-score 変換パラメータ
//
// モデルにこれが存在する場合、予測入力は必ず同じ変換を通す。
// 出力の逆変換は TargetWasNormalized が true の場合のみ行う。
// このフラグは永続化されたまま正確に復元されなければならない。
type NormalizationParams struct {
	FeatureMeans        []float64 `json:"featureMeans"`
	FeatureStds         []float64 `json:"featureStds"`
	TargetMean          float64   `json:"targetMean"`
	TargetStd           float64   `json:"targetStd"`
	TargetWasNormalized bool      `json:"targetWasNormalized"`
}

// Clone はディープコピーを返す
func (p *NormalizationParams) Clone() *NormalizationParams {
	if p == nil {
		return nil
	}
	c := *p
	c.FeatureMeans = append([]float64(nil), p.FeatureMeans...)
	c.FeatureStds = append([]float64(nil), p.FeatureStds...)
	return &c
}

// LinearParams は単回帰のパラメータ
type LinearParams struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// MultivariateParams は多変量回帰のパラメータ
//
// Coefficients の末尾が切片。Normalization が nil のモデルは正規化導入前に
// 学習されたもので、生の入力に係数をそのまま適用する。
type MultivariateParams struct {
	Coefficients  []float64            `json:"coefficients"`
	Normalization *NormalizationParams `json:"normalization,omitempty"`
}

// Intercept は末尾の切片を返す
func (p *MultivariateParams) Intercept() float64 {
	if len(p.Coefficients) == 0 {
		return 0
	}
	return p.Coefficients[len(p.Coefficients)-1]
}

// Weights は切片を除いた係数を返す
func (p *MultivariateParams) Weights() []float64 {
	if len(p.Coefficients) == 0 {
		return nil
	}
	return p.Coefficients[:len(p.Coefficients)-1]
}

// Architecture はニューラルネットワークの構成
type Architecture struct {
	InputSize        int     `json:"inputSize"`
	HiddenLayerSizes []int   `json:"hiddenLayerSizes"`
	DropoutRate      float64 `json:"dropoutRate"`
	Activation       string  `json:"activation"`
	Optimizer        string  `json:"optimizer"`
	LearningRate     float64 `json:"learningRate"`
	Loss             string  `json:"loss"`
}

// NeuralParams はニューラルネットワークのパラメータ
//
// 重みはインラインに埋め込まず、WeightsArtifactRef が指す成果物ディレクトリに置く。
type NeuralParams struct {
	WeightsArtifactRef string               `json:"weightsArtifactRef"`
	ArtifactFormat     string               `json:"artifactFormat,omitempty"`
	Architecture       Architecture         `json:"architecture"`
	Normalization      *NormalizationParams `json:"normalization"`
}

// Parameters は種類ごとのパラメータ。Kind に対応する 1 つだけが非 nil。
type Parameters struct {
	Linear       *LinearParams       `json:"linear,omitempty"`
	Multivariate *MultivariateParams `json:"multivariate,omitempty"`
	Neural       *NeuralParams       `json:"neural,omitempty"`
}

// TrainingMetrics は学習データ上の評価指標
type TrainingMetrics struct {
	MSE   float64            `json:"mse"`
	RMSE  float64            `json:"rmse"`
	R2    float64            `json:"r2"`
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Metadata はモデルのメタデータ
type Metadata struct {
	// Accuracy は学習データ上の R²（負になりうる）
	Accuracy        float64         `json:"accuracy"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastTrainedAt   time.Time       `json:"lastTrainedAt"`
	TrainingMetrics TrainingMetrics `json:"trainingMetrics"`
}

// TrainedModel は学習済みモデル
//
// 登録後は不変。再学習は常に新しい ID を生成する。
type TrainedModel struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Kind         Kind       `json:"kind"`
	FeatureNames []string   `json:"featureNames"`
	TargetName   string     `json:"targetName"`
	Parameters   Parameters `json:"parameters"`
	Metadata     Metadata   `json:"metadata"`
}

// ModelSummary は一覧表示用の要約。生のパラメータは含めない。
type ModelSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	Accuracy      float64   `json:"accuracy"`
	CreatedAt     time.Time `json:"createdAt"`
	LastTrainedAt time.Time `json:"lastTrainedAt"`
	FeatureNames  []string  `json:"featureNames"`
	TargetName    string    `json:"targetName"`
}

// NewID はモデル ID を生成する
//
// 形式は model_<UnixMilli>_<UUID 先頭 8 桁>。衝突確率は無視できるが厳密に 0 ではない。
func NewID(now time.Time) string {
	return fmt.Sprintf("model_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Summary は要約を返す
func (m *TrainedModel) Summary() ModelSummary {
	return ModelSummary{
		ID:            m.ID,
		Name:          m.Name,
		Kind:          m.Kind,
		Accuracy:      m.Metadata.Accuracy,
		CreatedAt:     m.Metadata.CreatedAt,
		LastTrainedAt: m.Metadata.LastTrainedAt,
		FeatureNames:  append([]string(nil), m.FeatureNames...),
		TargetName:    m.TargetName,
	}
}

// Normalization は種類に応じた正規化パラメータを返す（無ければ nil）
func (m *TrainedModel) Normalization() *NormalizationParams {
	switch m.Kind {
	case Linear:
		return nil
	case Multivariate:
		if m.Parameters.Multivariate == nil {
			return nil
		}
		return m.Parameters.Multivariate.Normalization
	case NeuralNetwork:
		if m.Parameters.Neural == nil {
			return nil
		}
		return m.Parameters.Neural.Normalization
	default:
		return nil
	}
}

// ToJSON はモデルを JSON にシリアライズする
func (m *TrainedModel) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON は JSON からモデルを復元し、妥当性を検証する
func (m *TrainedModel) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return errors.Wrap(err, "decode model metadata")
	}
	return m.Validate()
}

// Validate はモデルの妥当性を検証する
func (m *TrainedModel) Validate() error {
	if m.ID == "" {
		return errors.NewValidationError("id", "model id is required", m.ID)
	}

	switch m.Kind {
	case Linear:
		if m.Parameters.Linear == nil {
			return errors.NewValidationError("parameters.linear", "linear model has no slope/intercept", nil)
		}
	case Multivariate:
		p := m.Parameters.Multivariate
		if p == nil || len(p.Coefficients) < 2 {
			return errors.NewValidationError("parameters.multivariate", "multivariate model needs coefficients and intercept", nil)
		}
		if n := p.Normalization; n != nil && (len(n.FeatureMeans) != len(p.Coefficients)-1 || len(n.FeatureStds) != len(n.FeatureMeans)) {
			return errors.NewValidationError("parameters.multivariate.normalization", "normalization width does not match coefficients", len(n.FeatureMeans))
		}
	case NeuralNetwork:
		p := m.Parameters.Neural
		if p == nil || p.WeightsArtifactRef == "" {
			return errors.NewValidationError("parameters.neural", "neural model has no weights artifact", nil)
		}
		if p.Normalization == nil {
			return errors.NewValidationError("parameters.neural.normalization", "neural model requires normalization", nil)
		}
	default:
		return errors.NewValidationError("kind", "unsupported model kind", m.Kind)
	}
	return nil
}

// Clone はディープコピーを作成する
func (m *TrainedModel) Clone() *TrainedModel {
	clone := *m
	clone.FeatureNames = append([]string(nil), m.FeatureNames...)

	if p := m.Parameters.Linear; p != nil {
		c := *p
		clone.Parameters.Linear = &c
	}
	if p := m.Parameters.Multivariate; p != nil {
		clone.Parameters.Multivariate = &MultivariateParams{
			Coefficients:  append([]float64(nil), p.Coefficients...),
			Normalization: p.Normalization.Clone(),
		}
	}
	if p := m.Parameters.Neural; p != nil {
		c := *p
		c.Architecture.HiddenLayerSizes = append([]int(nil), p.Architecture.HiddenLayerSizes...)
		c.Normalization = p.Normalization.Clone()
		clone.Parameters.Neural = &c
	}
	if m.Metadata.TrainingMetrics.Extra != nil {
		clone.Metadata.TrainingMetrics.Extra = make(map[string]float64, len(m.Metadata.TrainingMetrics.Extra))
		for k, v := range m.Metadata.TrainingMetrics.Extra {
			clone.Metadata.TrainingMetrics.Extra[k] = v
		}
	}
	return &clone
}
