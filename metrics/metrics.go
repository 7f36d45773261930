// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lecture_engine"

var (
	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	LectureMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "lecture_mutations_total", Help: "Lecture mutations by operation and outcome",
	}, []string{"op", "outcome"})

	PostponementConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "postponement_conflicts_total", Help: "Postponements rejected for trainer schedule conflicts",
	})

	PayrollComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "payroll_computations_total", Help: "Payroll reports computed",
	}, []string{"outcome"})

	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(HTTPRequests, LectureMutations, PostponementConflicts, PayrollComputations, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

func ObserveRequest(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Observe(d.Seconds())
}

// Outcome labels a mutation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
