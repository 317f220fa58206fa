// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xcheck"

var (
	// ClassificationDefaults counts controls whose state fell through every
	// classification signal to the default. A rising rate means the platform
	// markup changed.
	ClassificationDefaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_default_total",
		Help:      "Action controls classified by the default branch, by kind.",
	}, []string{"kind"})

	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Completed interaction checks by action and outcome code.",
	}, []string{"action", "outcome"})

	checkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "check_duration_seconds",
		Help:      "Wall time of interaction checks.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"action"})

	admissionRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_rejections_total",
		Help:      "Requests rejected by the admission controller, by reason.",
	}, []string{"reason"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_sessions_active",
		Help:      "Browser sessions currently open.",
	})

	logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Session establishment attempts by method and result.",
	}, []string{"method", "result"})
)

// ObserveCheck records one finished check. outcome is "ok" or an error code.
func ObserveCheck(action, outcome string, elapsed time.Duration) {
	checksTotal.WithLabelValues(action, outcome).Inc()
	checkDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// AdmissionRejected counts a rejected request.
func AdmissionRejected(reason string) {
	admissionRejects.WithLabelValues(reason).Inc()
}

// SessionOpened and SessionClosed track live browser sessions.
func SessionOpened() { activeSessions.Inc() }

func SessionClosed() { activeSessions.Dec() }

// Login counts a session establishment attempt.
func Login(method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	logins.WithLabelValues(method, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
