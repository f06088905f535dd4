package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/ptr"

	"github.com/YuminosukeSato/agriwarn/config"
	"github.com/YuminosukeSato/agriwarn/engine"
	"github.com/YuminosukeSato/agriwarn/neural"
	"github.com/YuminosukeSato/agriwarn/pkg/artifactstore"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/pkg/tracking"
	"github.com/YuminosukeSato/agriwarn/pkg/weather"
	"github.com/YuminosukeSato/agriwarn/registry"
)

// newEngine は設定から Engine を組み立てる。戻り値の関数は開いたファイルを閉じる。
func newEngine(cfg *config.Config, reg prometheus.Registerer) (*engine.Engine, func(), error) {
	logger := log.GetLoggerWithName("engine")

	store, err := registry.NewFileStore(cfg.Storage.ModelsDir, log.GetLoggerWithName("registry"))
	if err != nil {
		return nil, nil, err
	}
	backend, err := neural.ProbeBackend(cfg.Artifact.Format)
	if err != nil {
		return nil, nil, err
	}

	opts := []engine.OptionFn{
		engine.WithLogger(logger),
		engine.WithRegisterer(reg),
		engine.WithNeuralConfig(cfg.Neural),
		engine.WithBackend(backend),
		engine.WithLossPlot(ptr.Deref(cfg.Artifact.PlotLoss, false)),
	}
	closeFn := func() {}

	if ptr.Deref(cfg.ArtifactStore.Enabled, false) {
		opts = append(opts, engine.WithArtifactStore(artifactstore.NewDirStore(cfg.ArtifactStore.Dir)))
	}
	if ptr.Deref(cfg.Tracking.Enabled, false) {
		tracker, err := tracking.OpenLogTracker(cfg.Tracking.Path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, engine.WithTracker(tracker))
		closeFn = func() {
			if err := tracker.Close(); err != nil {
				logger.Warn("Failed to close tracking log", err)
			}
		}
	}
	if ptr.Deref(cfg.Weather.Enabled, false) {
		opts = append(opts, engine.WithWeatherProvider(&weather.StaticProvider{Snapshot: cfg.Weather.WeatherSnapshot()}))
	}

	return engine.New(registry.New(store, cfg.Storage.ModelsDir, registry.WithLogger(log.GetLoggerWithName("registry"))), opts...), closeFn, nil
}
