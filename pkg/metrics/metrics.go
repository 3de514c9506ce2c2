// Package metrics holds the Prometheus collectors of the console.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/table"
)

const namespace = "cms_backend"

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var _ table.Observer = &Metrics{}

type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	superseded    prometheus.Counter
	mutations     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	openViews     prometheus.Gauge
	sessions      *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Page fetches resolved by list views.",
		}, []string{"collection", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching a page from the backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_results_total",
			Help:      "Fetch results discarded because a newer query was issued.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Record creates, updates and deletes.",
		}, []string{"op", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by the operation they were raised in.",
		}, []string{"location"}),
		openViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_views",
			Help:      "List views currently held by the server.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session changes published on the session hub.",
		}, []string{"type"}),
	}
}

// Register adds all collectors, the Go runtime collector and, when db is
// set, the connection pool stats of the session database.
func (m *Metrics) Register(reg prometheus.Registerer, db *sql.DB, dbName string) error {
	cols := []prometheus.Collector{
		m.fetches,
		m.fetchDuration,
		m.superseded,
		m.mutations,
		m.errors,
		m.openViews,
		m.sessions,
		collectors.NewGoCollector(),
	}

	if db != nil {
		cols = append(cols, collectors.NewDBStatsCollector(db, dbName))
	}

	for _, c := range cols {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

func (m *Metrics) Fetched(collection string, d time.Duration, err error) {
	m.fetches.WithLabelValues(collection, outcome(err)).Inc()
	m.fetchDuration.WithLabelValues(collection).Observe(d.Seconds())

	if err != nil {
		m.Error(err)
	}
}

func (m *Metrics) Superseded(string) {
	m.superseded.Inc()
}

// Mutated counts a create, update or delete.
func (m *Metrics) Mutated(op string, err error) {
	m.mutations.WithLabelValues(op, outcome(err)).Inc()

	if err != nil {
		m.Error(err)
	}
}

// Error counts err under the innermost operation that raised it.
func (m *Metrics) Error(err error) {
	location := "unknown"
	if ops := errs.OpStack(err); len(ops) > 0 {
		location = ops[len(ops)-1]
	}

	m.errors.WithLabelValues(location).Inc()
}

func (m *Metrics) ViewOpened() {
	m.openViews.Inc()
}

func (m *Metrics) ViewClosed() {
	m.openViews.Dec()
}

func (m *Metrics) SessionEvent(typ string) {
	m.sessions.WithLabelValues(typ).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}

	return OutcomeOK
}
