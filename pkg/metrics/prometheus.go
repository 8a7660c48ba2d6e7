package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	candlesIngested *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	predictions     *prometheus.CounterVec
	modelsTrained   *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	wsDropped       *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		candlesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinecast_candles_ingested_total",
				Help: "New minute candles written to storage",
			},
			[]string{"symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinecast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "klinecast_last_price",
				Help: "Last recorded close price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "klinecast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		predictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinecast_predictions_persisted_total",
				Help: "Predicted minute candles written to storage",
			},
			[]string{"symbol"},
		),
		modelsTrained: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinecast_model_sets_trained_total",
				Help: "Daily model set training runs completed",
			},
			[]string{"symbol"},
		),
		wsConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "klinecast_ws_connections",
				Help: "Active websocket connections",
			},
		),
		wsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinecast_ws_dropped_messages_total",
				Help: "Outbound websocket messages dropped on full queues",
			},
			[]string{"symbol"},
		),
	}
}

// RecordCandlesIngested counts newly inserted candles.
func (r *Recorder) RecordCandlesIngested(symbol string, n int64) {
	if n > 0 {
		r.candlesIngested.WithLabelValues(symbol).Add(float64(n))
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last close price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordPredictionsPersisted counts persisted prediction minutes.
func (r *Recorder) RecordPredictionsPersisted(symbol string, n int) {
	if n > 0 {
		r.predictions.WithLabelValues(symbol).Add(float64(n))
	}
}

// RecordModelTrained counts completed training runs.
func (r *Recorder) RecordModelTrained(symbol string) {
	r.modelsTrained.WithLabelValues(symbol).Inc()
}

// AddWSConnections moves the live connection gauge.
func (r *Recorder) AddWSConnections(delta int) {
	r.wsConnections.Add(float64(delta))
}

// RecordWSDropped counts messages dropped on a full client queue.
func (r *Recorder) RecordWSDropped(symbol string) {
	r.wsDropped.WithLabelValues(symbol).Inc()
}
