// Package metrics holds the Prometheus collectors for the prediction API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Predictions *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	VideoFrames prometheus.Counter
	Truncated   prometheus.Counter
}

// New builds collectors on a private registry so tests can create as many
// instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pose_predictions_total",
			Help: "Prediction requests by media kind, source and outcome.",
		}, []string{"kind", "source", "status"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pose_prediction_duration_seconds",
			Help:    "Time spent producing an annotated result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		}, []string{"kind"}),
		VideoFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "pose_video_frames_total",
			Help: "Video frames annotated.",
		}),
		Truncated: f.NewCounter(prometheus.CounterOpts{
			Name: "pose_video_truncated_total",
			Help: "Videos cut short by the processing limit.",
		}),
	}
}

// Observe records one finished prediction.
func (m *Metrics) Observe(kind, source, status string, elapsed time.Duration) {
	m.Predictions.WithLabelValues(kind, source, status).Inc()
	m.Duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
