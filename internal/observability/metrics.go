package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	sessionOpTotal    *prometheus.CounterVec
	sessionOpDuration *prometheus.HistogramVec
	sessionRenames    prometheus.Counter
	storedSessions    prometheus.Gauge
	corruptSessions   prometheus.Gauge

	streamRecords *prometheus.CounterVec

	autosaveTotal *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	eventClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			sessionOpTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "olmchat_session_operations_total",
					Help: "Session store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			sessionOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "olmchat_session_operation_duration_seconds",
					Help:    "Session store operation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			sessionRenames: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "olmchat_session_renames_total",
					Help: "Placeholder sessions renamed after their first user message.",
				},
			),
			storedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "olmchat_stored_sessions",
					Help: "Parsable session files seen by the last listing or audit.",
				},
			),
			corruptSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "olmchat_corrupt_sessions",
					Help: "Unparsable session files seen by the last listing or audit.",
				},
			),
			streamRecords: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "olmchat_stream_records_total",
					Help: "Streaming records by outcome (applied, ignored, invalid).",
				},
				[]string{"result"},
			),
			autosaveTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "olmchat_autosave_total",
					Help: "Autosave executions by trigger and status.",
				},
				[]string{"trigger", "status"},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "olmchat_http_requests_total",
					Help: "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			eventClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "olmchat_event_clients",
					Help: "Connected event stream clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.sessionOpTotal,
			m.sessionOpDuration,
			m.sessionRenames,
			m.storedSessions,
			m.corruptSessions,
			m.streamRecords,
			m.autosaveTotal,
			m.httpRequests,
			m.eventClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSessionOperation(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.sessionOpTotal.WithLabelValues(op, status(success)).Inc()
	m.sessionOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordSessionRename() {
	getMetrics().sessionRenames.Inc()
}

func SetStoredSessions(valid, corrupt int) {
	m := getMetrics()
	m.storedSessions.Set(float64(valid))
	m.corruptSessions.Set(float64(corrupt))
}

func RecordStreamRecord(result string) {
	getMetrics().streamRecords.WithLabelValues(result).Inc()
}

func RecordAutosave(trigger string, success bool) {
	getMetrics().autosaveTotal.WithLabelValues(trigger, status(success)).Inc()
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func SetEventClients(count int) {
	getMetrics().eventClients.Set(float64(count))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
