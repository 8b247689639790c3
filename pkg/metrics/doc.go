// Package metrics exposes Mercury's internal counters, gauges, and
// histograms through the Prometheus client library.
//
// Metrics are grouped by the component that owns them: atom interning,
// page cache hit/miss/eviction counts, WAL append/flush/checkpoint
// timings, B+tree shape (height, page count, splits), quad store batch
// and lock-wait timings, query latency by result kind, pruning transfer
// throughput, and store-pool/gate wait times.
//
// All metrics are registered at package init time against the default
// Prometheus registry; Handler returns an http.Handler suitable for
// mounting under /metrics by an external collaborator. Mercury itself
// does not run an HTTP server.
package metrics
