package imageserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors updated by an ImageServer.
type Metrics struct {
	CacheLookups   *prometheus.CounterVec
	ResizeDuration *prometheus.HistogramVec
	Uploads        *prometheus.CounterVec
	Responses      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with the provided registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {

	metrics := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageserver",
			Name:      "cache_lookups_total",
			Help:      "Number of image requests by cache result (hit, miss, bypass)",
		}, []string{"result"}),
		ResizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imageserver",
			Name:      "resize_duration_seconds",
			Help:      "Time spent decoding, resizing, and encoding images",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"format"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageserver",
			Name:      "uploads_total",
			Help:      "Number of upload attempts by outcome",
		}, []string{"outcome"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageserver",
			Name:      "responses_total",
			Help:      "Number of responses by method and status code",
		}, []string{"method", "code"}),
	}

	registry.MustRegister(
		metrics.CacheLookups,
		metrics.ResizeDuration,
		metrics.Uploads,
		metrics.Responses,
	)

	return metrics
}

func (metrics *Metrics) observeResponse(method string, statusCode int) {
	metrics.Responses.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}
