// Package metrics holds the Prometheus instruments for retrieval and
// vectorization. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics:
//   - jurisrag_queries_total{outcome}
//   - jurisrag_query_duration_seconds
//   - jurisrag_vectorizations_total{outcome}
//   - jurisrag_chunks_embedded_total
//   - jurisrag_chunks_dropped_total
//   - jurisrag_cleanup_files_total
//   - jurisrag_cleanup_vectors_total
//   - jurisrag_compressions_total{outcome}
type Metrics struct {
	QueriesTotal        *prometheus.CounterVec
	QueryDuration       prometheus.Histogram
	VectorizationsTotal *prometheus.CounterVec
	ChunksEmbedded      prometheus.Counter
	ChunksDropped       prometheus.Counter
	CleanupFiles        prometheus.Counter
	CleanupVectors      prometheus.Counter
	CompressionsTotal   *prometheus.CounterVec
}

// New registers the instruments on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jurisrag_queries_total",
			Help: "Total number of retrieval queries by outcome",
		}, []string{"outcome"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jurisrag_query_duration_seconds",
			Help:    "Duration of retrieval queries including lazy loading",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		VectorizationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jurisrag_vectorizations_total",
			Help: "Total number of document vectorizations by outcome",
		}, []string{"outcome"}),
		ChunksEmbedded: factory.NewCounter(prometheus.CounterOpts{
			Name: "jurisrag_chunks_embedded_total",
			Help: "Total number of chunks embedded and written to the index",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "jurisrag_chunks_dropped_total",
			Help: "Total number of chunks dropped after an embedding failure",
		}),
		CleanupFiles: factory.NewCounter(prometheus.CounterOpts{
			Name: "jurisrag_cleanup_files_total",
			Help: "Total number of documents expired by the cleanup job",
		}),
		CleanupVectors: factory.NewCounter(prometheus.CounterOpts{
			Name: "jurisrag_cleanup_vectors_total",
			Help: "Total number of vectors removed by the cleanup job",
		}),
		CompressionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jurisrag_compressions_total",
			Help: "Total number of context compressions by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveVectorization(outcome string, embedded, dropped int) {
	if m == nil {
		return
	}
	m.VectorizationsTotal.WithLabelValues(outcome).Inc()
	m.ChunksEmbedded.Add(float64(embedded))
	m.ChunksDropped.Add(float64(dropped))
}

func (m *Metrics) ObserveCleanup(files, vectors int) {
	if m == nil {
		return
	}
	m.CleanupFiles.Add(float64(files))
	m.CleanupVectors.Add(float64(vectors))
}

func (m *Metrics) ObserveCompression(outcome string) {
	if m == nil {
		return
	}
	m.CompressionsTotal.WithLabelValues(outcome).Inc()
}
