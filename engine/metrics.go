package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "agriwarn"

	statusSuccess = "success"
	statusError   = "error"

	kindUnknown = "unknown"
)

type collectors struct {
	trainings        *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec
	predictions      *prometheus.CounterVec
	registeredModels prometheus.GaugeFunc
	sideCallFailures *prometheus.CounterVec
}

func newCollectors(registered func() float64) *collectors {
	return &collectors{
		trainings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trainings_total",
			Help:      "Number of training runs by model kind and outcome",
		}, []string{"kind", "status"}),
		trainingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall time spent in a trainer",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Number of predictions by model kind and outcome",
		}, []string{"kind", "status"}),
		registeredModels: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_models",
			Help:      "Number of models currently in the registry",
		}, registered),
		sideCallFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_call_failures_total",
			Help:      "Failed artifact uploads and experiment tracking calls",
		}, []string{"collaborator"}),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.trainings,
		c.trainingDuration,
		c.predictions,
		c.registeredModels,
		c.sideCallFailures,
	}
}

func (c *collectors) register(r prometheus.Registerer) error {
	for _, col := range c.all() {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}
