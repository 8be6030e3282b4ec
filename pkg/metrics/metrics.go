// Package metrics exposes the pipeline's Prometheus collectors. A nil
// *Registry is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the pipeline collectors on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	fetchRequests   *prometheus.CounterVec
	documents       *prometheus.CounterVec
	chunks          *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	embedDuration   prometheus.Histogram
	collectionSize  *prometheus.GaugeVec
	retrievalRouted *prometheus.CounterVec
}

// New creates a registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		fetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_fetch_requests_total",
			Help: "HTTP fetches by scraper and outcome (ok, retry, failed, disallowed).",
		}, []string{"scraper", "outcome"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_documents_normalized_total",
			Help: "Canonical documents written by source.",
		}, []string{"source"}),
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_chunks_upserted_total",
			Help: "Chunks embedded and upserted by collection.",
		}, []string{"collection"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kb_stage_duration_seconds",
			Help:    "Orchestrator stage duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stage"}),
		embedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kb_embed_batch_duration_seconds",
			Help:    "Embedding request duration per batch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		collectionSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kb_collection_chunks",
			Help: "Chunks stored per collection at last count.",
		}, []string{"collection"}),
		retrievalRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_retrieval_routed_total",
			Help: "Categories selected by the retrieval router.",
		}, []string{"category"}),
	}
}

// Fetch counts one fetch outcome.
func (r *Registry) Fetch(scraper, outcome string) {
	if r == nil {
		return
	}
	r.fetchRequests.WithLabelValues(scraper, outcome).Inc()
}

// Documents counts normalized documents for source.
func (r *Registry) Documents(source string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.documents.WithLabelValues(source).Add(float64(n))
}

// Chunks counts upserted chunks for collection.
func (r *Registry) Chunks(collection string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.chunks.WithLabelValues(collection).Add(float64(n))
}

// Stage records how long stage took.
func (r *Registry) Stage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// EmbedBatch records one embedding call.
func (r *Registry) EmbedBatch(d time.Duration) {
	if r == nil {
		return
	}
	r.embedDuration.Observe(d.Seconds())
}

// CollectionSize records the current chunk count of collection.
func (r *Registry) CollectionSize(collection string, n int) {
	if r == nil {
		return
	}
	r.collectionSize.WithLabelValues(collection).Set(float64(n))
}

// Routed counts a category picked by the router.
func (r *Registry) Routed(category string) {
	if r == nil {
		return
	}
	r.retrievalRouted.WithLabelValues(category).Inc()
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
