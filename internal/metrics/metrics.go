package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offline_proxy",
			Name:      "requests_total",
			Help:      "Intercepted requests by classification and response source",
		},
		[]string{"classification", "source"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "offline_proxy",
			Name:      "request_duration_seconds",
			Help:      "Time to produce a response for an intercepted request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"classification"},
	)

	installsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offline_proxy",
			Name:      "installs_total",
			Help:      "Generation installs by result",
		},
		[]string{"result"},
	)

	activeGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "offline_proxy",
			Name:      "active_generation",
			Help:      "1 for the version currently serving requests",
		},
		[]string{"version"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offline_proxy",
			Name:      "push_messages_total",
			Help:      "Push messages by result",
		},
		[]string{"result"},
	)
)

func Init() {
	prometheus.MustRegister(outcomesTotal, requestDuration, installsTotal, activeGeneration, notificationsTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveOutcome(classification, source string, d time.Duration) {
	outcomesTotal.WithLabelValues(classification, source).Inc()
	requestDuration.WithLabelValues(classification).Observe(d.Seconds())
}

func IncInstall(result string) {
	installsTotal.WithLabelValues(result).Inc()
}

// SetActiveGeneration moves the gauge to version.
func SetActiveGeneration(version string) {
	activeGeneration.Reset()
	activeGeneration.WithLabelValues(version).Set(1)
}

func IncPush(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}
