// Package metrics provides Prometheus metrics for the Lakeside services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the compaction service and the
// ingestion gateway.
type Metrics struct {
	// Compaction metrics
	CompactionsTotal   prometheus.Counter
	CompactionsBusy    prometheus.Counter
	CompactionsFailed  *prometheus.CounterVec
	CompactionDuration prometheus.Histogram

	// Per-run size metrics
	PartitionsCompacted prometheus.Histogram
	FilesCompacted      prometheus.Histogram
	RowsCompacted       prometheus.Histogram

	// Post-commit anomalies
	PublishDeferred prometheus.Counter
	ReclaimDeferred prometheus.Counter
	OrphansCleaned  prometheus.Counter

	// Lock metrics
	LockHeld       prometheus.Gauge
	StaleRecovered prometheus.Counter

	// Transaction log
	LogEntriesTotal prometheus.Counter
	LogCASRetries   prometheus.Counter

	// Gateway metrics
	RecordsIngested *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec
	StagingBytes    prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Addr    string
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lakeside"
	}

	m := &Metrics{
		CompactionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Total number of completed compactions",
		}),
		CompactionsBusy: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_busy_total",
			Help:      "Total number of compaction requests rejected because the lock was held",
		}),
		CompactionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_failed_total",
			Help:      "Total number of failed compactions",
		}, []string{"reason"}),
		CompactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Wall-clock time of one compaction run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~200s
		}),
		PartitionsCompacted: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partitions_per_compaction",
			Help:      "Number of partitions folded by one compaction",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		FilesCompacted: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "files_per_compaction",
			Help:      "Number of staging objects folded by one compaction",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		RowsCompacted: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rows_per_compaction",
			Help:      "Number of rows written by one compaction",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
		}),
		PublishDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_deferred_total",
			Help:      "Artifacts whose publish failed after the log committed",
		}),
		ReclaimDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_deferred_total",
			Help:      "Staging objects whose post-commit delete failed",
		}),
		OrphansCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_cleaned_total",
			Help:      "Orphaned staging objects removed by cleanup",
		}),
		LockHeld: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compaction_lock_held",
			Help:      "1 while the compaction lock is held",
		}),
		StaleRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_locks_recovered_total",
			Help:      "Stale compaction locks recovered on load",
		}),
		LogEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_entries_appended_total",
			Help:      "Transaction log entries appended",
		}),
		LogCASRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_cas_retries_total",
			Help:      "Version races lost by the conditional log append",
		}),
		RecordsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Records accepted by the gateway",
		}, []string{"mode"}),
		RecordsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records rejected by gateway validation",
		}, []string{"mode"}),
		StagingBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_bytes_written_total",
			Help:      "Bytes written to the staging namespace",
		}),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(addr, mux)
}
