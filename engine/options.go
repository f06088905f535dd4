package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/YuminosukeSato/agriwarn/neural"
	"github.com/YuminosukeSato/agriwarn/pkg/artifactstore"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/pkg/tracking"
	"github.com/YuminosukeSato/agriwarn/pkg/weather"
)

// Opts は Engine の設定
type Opts struct {
	logger     log.Logger
	clock      clock.PassiveClock
	registerer prometheus.Registerer

	weather   weather.Provider
	artifacts artifactstore.Store
	tracker   tracking.Tracker

	neural   neural.Config
	backend  neural.Backend
	plotLoss bool
}

// DefaultOpts は既定の設定を返す。副作用の呼び出し先は設定されない。
func DefaultOpts() Opts {
	return Opts{
		logger: log.GetLoggerWithName("engine"),
		clock:  clock.RealClock{},
		neural: neural.DefaultConfig(),
	}
}

// OptionFn は Opts の値を 1 つ以上設定する
type OptionFn func(*Opts)

// WithLogger はロガーを設定する
func WithLogger(l log.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = l
	}
}

// WithClock はタイムスタンプと学習時間の計測に使う時計を設定する
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithRegisterer は Init でメトリクスを登録する先を設定する
func WithRegisterer(r prometheus.Registerer) OptionFn {
	return func(o *Opts) {
		o.registerer = r
	}
}

// WithWeatherProvider は PredictAt が使う気象データの取得元を設定する
func WithWeatherProvider(p weather.Provider) OptionFn {
	return func(o *Opts) {
		o.weather = p
	}
}

// WithArtifactStore はニューラルネットワークの成果物のバックアップ先を設定する
func WithArtifactStore(s artifactstore.Store) OptionFn {
	return func(o *Opts) {
		o.artifacts = s
	}
}

// WithTracker は学習ランの記録先を設定する
func WithTracker(t tracking.Tracker) OptionFn {
	return func(o *Opts) {
		o.tracker = t
	}
}

// WithNeuralConfig はニューラルネットワークの既定の学習設定を設定する
func WithNeuralConfig(cfg neural.Config) OptionFn {
	return func(o *Opts) {
		o.neural = cfg
	}
}

// WithBackend は成果物の保存形式を固定する。nil の場合は CPU の機能から選ぶ。
func WithBackend(b neural.Backend) OptionFn {
	return func(o *Opts) {
		o.backend = b
	}
}

// WithLossPlot は成果物ディレクトリに loss.png を出力するかどうかを設定する
func WithLossPlot(enabled bool) OptionFn {
	return func(o *Opts) {
		o.plotLoss = enabled
	}
}
