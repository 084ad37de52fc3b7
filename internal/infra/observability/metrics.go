package observability

import (
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	syncPushes        *prometheus.CounterVec
	snapshotsReceived prometheus.Counter
	recordWrites      *prometheus.CounterVec
	importRows        *prometheus.CounterVec
	connectivity      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finanze_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		syncPushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finanze_sync_pushes_total",
				Help: "Total snapshot pushes to the remote store by result.",
			},
			[]string{"result"},
		),
		snapshotsReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finanze_sync_snapshots_received_total",
				Help: "Total remote snapshots ingested.",
			},
		),
		recordWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finanze_record_writes_total",
				Help: "Total record mutations by collection and operation.",
			},
			[]string{"collection", "op"},
		),
		importRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finanze_import_rows_total",
				Help: "Spreadsheet import rows by outcome.",
			},
			[]string{"outcome"},
		),
		connectivity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "finanze_sync_online",
				Help: "1 while the remote sync channel is online, 0 otherwise.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrPush increments the push counter with result "ok" or "error".
func (m *Metrics) IncrPush(result string) {
	m.syncPushes.WithLabelValues(result).Inc()
}

// IncrSnapshotReceived counts one ingested remote snapshot.
func (m *Metrics) IncrSnapshotReceived() {
	m.snapshotsReceived.Inc()
}

// IncrRecordWrite counts one record mutation.
func (m *Metrics) IncrRecordWrite(collection, op string) {
	m.recordWrites.WithLabelValues(collection, op).Inc()
}

// IncrImportRow counts one spreadsheet row with outcome "imported" or "skipped".
func (m *Metrics) IncrImportRow(outcome string) {
	m.importRows.WithLabelValues(outcome).Inc()
}

// SetOnline flips the connectivity gauge.
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.connectivity.Set(1)
	} else {
		m.connectivity.Set(0)
	}
}

// GetSyncSnapshot returns a snapshot of sync-related metrics suitable for
// the GET /v1/metrics/sync endpoint.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	ok := getCounterValue(m.syncPushes, "ok")
	failed := getCounterValue(m.syncPushes, "error")

	errorRate := float64(0)
	if ok+failed > 0 {
		errorRate = failed / (ok + failed)
	}

	return &domain.SyncMetrics{
		PushesOK:          int64(ok),
		PushesFailed:      int64(failed),
		PushErrorRate:     errorRate,
		SnapshotsReceived: int64(getGaugeOrCounterValue(m.snapshotsReceived)),
		Online:            getGaugeValue(m.connectivity) >= 1,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getGaugeOrCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
