// Package metrics holds the server's Prometheus collectors, served on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest results.
const (
	ResultStored    = "stored"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultTooLarge  = "too_large"
	ResultFailed    = "failed"
)

var (
	// IngestTotal counts POST /receive outcomes by result.
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecam_ingest_total",
		Help: "Ingestion requests by result.",
	}, []string{"result"})

	// IngestBytes counts payload bytes written to the upload root.
	IngestBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgecam_ingest_bytes_total",
		Help: "Bytes of newly stored artifacts.",
	})

	// ListingSeconds observes how long directory listings take.
	ListingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgecam_listing_seconds",
		Help:    "Time spent scanning the upload root.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// Viewers reports connected live-feed clients.
	Viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecam_live_viewers",
		Help: "Connected WebSocket viewers.",
	})
)

// Ingested records one ingestion outcome.
func Ingested(result string, bytes int64) {
	IngestTotal.WithLabelValues(result).Inc()
	if result == ResultStored && bytes > 0 {
		IngestBytes.Add(float64(bytes))
	}
}
