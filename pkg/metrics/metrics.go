package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Atom store metrics
	AtomsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_atoms_total",
			Help: "Total number of interned atoms",
		},
	)

	AtomInternDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mercury_atom_intern_duration_seconds",
			Help:    "Time taken to intern an atom in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Page cache metrics
	PageCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_page_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	PageCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_page_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	PageCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_page_cache_evictions_total",
			Help: "Total number of page cache frame evictions",
		},
	)

	DirtyPages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_dirty_pages",
			Help: "Current number of dirty (unflushed) pages held in the cache",
		},
	)

	// WAL metrics
	WALAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_wal_appends_total",
			Help: "Total number of WAL records appended",
		},
	)

	WALFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mercury_wal_flush_duration_seconds",
			Help:    "Time taken to fsync the WAL in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_wal_bytes_written_total",
			Help: "Total number of bytes appended to the WAL",
		},
	)

	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mercury_checkpoint_duration_seconds",
			Help:    "Time taken to complete a checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_checkpoints_total",
			Help: "Total number of checkpoints completed",
		},
	)

	// B+tree metrics
	BTreeHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_btree_height",
			Help: "Current height of the GSPO B+tree",
		},
	)

	BTreePages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_btree_pages",
			Help: "Current number of pages allocated in the GSPO B+tree",
		},
	)

	BTreeSplitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_btree_splits_total",
			Help: "Total number of leaf and internal node splits",
		},
	)

	// Quad store metrics
	QuadsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_quads_total",
			Help: "Total number of live (non-tombstone) quad versions",
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mercury_batch_duration_seconds",
			Help:    "Time a batch stays open between begin_batch and commit/rollback",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mercury_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire the store's read or write lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Query engine metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mercury_query_duration_seconds",
			Help:    "Query execution duration in seconds by result kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueryRowsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_query_rows_emitted_total",
			Help: "Total number of result bindings streamed to callers",
		},
	)

	QueryCancellationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_query_cancellations_total",
			Help: "Total number of queries terminated by cancellation",
		},
	)

	PatternScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_pattern_scans_total",
			Help: "Total number of pattern-scan emissions across all queries",
		},
	)

	// Pruning metrics
	PruneQuadsTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_prune_quads_transferred_total",
			Help: "Total number of quads copied by pruning transfers",
		},
	)

	PruneDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mercury_prune_duration_seconds",
			Help:    "Time taken to complete a pruning transfer in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Pool / gate metrics
	PoolLeasesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_pool_leases_active",
			Help: "Current number of outstanding store leases",
		},
	)

	GateWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mercury_gate_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a slot in the cross-process gate",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register atom store metrics
	prometheus.MustRegister(AtomsTotal)
	prometheus.MustRegister(AtomInternDuration)

	// Register page cache metrics
	prometheus.MustRegister(PageCacheHits)
	prometheus.MustRegister(PageCacheMisses)
	prometheus.MustRegister(PageCacheEvictions)
	prometheus.MustRegister(DirtyPages)

	// Register WAL metrics
	prometheus.MustRegister(WALAppendsTotal)
	prometheus.MustRegister(WALFlushDuration)
	prometheus.MustRegister(WALBytesWritten)
	prometheus.MustRegister(CheckpointDuration)
	prometheus.MustRegister(CheckpointsTotal)

	// Register B+tree metrics
	prometheus.MustRegister(BTreeHeight)
	prometheus.MustRegister(BTreePages)
	prometheus.MustRegister(BTreeSplitsTotal)

	// Register quad store metrics
	prometheus.MustRegister(QuadsTotal)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(LockWaitDuration)

	// Register query engine metrics
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryRowsEmitted)
	prometheus.MustRegister(QueryCancellationsTotal)
	prometheus.MustRegister(PatternScansTotal)

	// Register pruning metrics
	prometheus.MustRegister(PruneQuadsTransferred)
	prometheus.MustRegister(PruneDuration)

	// Register pool / gate metrics
	prometheus.MustRegister(PoolLeasesActive)
	prometheus.MustRegister(GateWaitDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
