package model

import "time"

// WeatherInfluenceWeight は気象データを入力に合成した場合に報告する影響度
const WeatherInfluenceWeight = 0.3

// Prediction は予測結果
type Prediction struct {
	// Value は目的変数の元スケールでの予測値
	Value float64 `json:"value"`
	// Confidence はモデルの学習時精度（R²）をそのまま用いる
	Confidence float64 `json:"confidence"`
	ModelID    string  `json:"modelId"`
	// ResolvedInput は気象データ合成後の実際の入力
	ResolvedInput []float64 `json:"input"`
	Timestamp     time.Time `json:"timestamp"`
	// WeatherInfluence は気象データを合成した場合のみ設定される
	WeatherInfluence *float64 `json:"weatherInfluence,omitempty"`
}

// WeatherMerged は気象データが入力に合成されたかどうかを返す
func (p *Prediction) WeatherMerged() bool {
	return p.WeatherInfluence != nil
}
