// Package weather は予測入力に合成する気象データの取得元を定義する。
package weather

import (
	"context"
	"strings"
	"time"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// Location は観測地点
type Location struct {
	Name      string  `json:"name,omitempty" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Snapshot はある時点の気象観測値
type Snapshot struct {
	Temperature   float64   `json:"temperature"`
	Humidity      float64   `json:"humidity"`
	Precipitation float64   `json:"precipitation"`
	WindSpeed     float64   `json:"windSpeed"`
	ObservedAt    time.Time `json:"observedAt,omitempty"`
}

// Features は予測入力の末尾に追加する値を
// temperature, humidity, precipitation, windSpeed の順で返す
func (s Snapshot) Features() []float64 {
	return []float64{s.Temperature, s.Humidity, s.Precipitation, s.WindSpeed}
}

// Provider は気象データの取得元
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Snapshot, error)
}

// weatherFeatures は大文字小文字とアンダースコアを無視した気象系の特徴量名
var weatherFeatures = map[string]struct{}{
	"temperature":   {},
	"humidity":      {},
	"precipitation": {},
	"windspeed":     {},
	"rain":          {},
}

// IsWeatherFeature は name が気象系の特徴量名かどうかを返す
func IsWeatherFeature(name string) bool {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "")
	_, ok := weatherFeatures[key]
	return ok
}

// HasWeatherFeatures は names に気象系の特徴量名が 1 つでも含まれるかどうかを返す
func HasWeatherFeatures(names []string) bool {
	for _, n := range names {
		if IsWeatherFeature(n) {
			return true
		}
	}
	return false
}

// StaticProvider は固定の観測値を返す Provider
//
// Err が設定されている場合は ExternalServiceError を返す。設定ファイルで
// 地点ごとの値を与えるオフライン運用とテストで使う。
type StaticProvider struct {
	Snapshot Snapshot
	// PerLocation は Location.Name ごとの上書き
	PerLocation map[string]Snapshot
	Err         error
}

var _ Provider = (*StaticProvider)(nil)

// Name implements Provider.
func (p *StaticProvider) Name() string {
	return "static"
}

// Fetch implements Provider.
func (p *StaticProvider) Fetch(ctx context.Context, loc Location) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, errors.NewExternalServiceError(p.Name(), err)
	}
	if p.Err != nil {
		return Snapshot{}, errors.NewExternalServiceError(p.Name(), p.Err)
	}
	if s, ok := p.PerLocation[loc.Name]; ok {
		return s, nil
	}
	return p.Snapshot, nil
}
