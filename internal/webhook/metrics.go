package webhook

import "github.com/prometheus/client_golang/prometheus"

var eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "strava_sync",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Number of webhook events processed by object, aspect and status.",
}, []string{"object_type", "aspect_type", "status"})

func init() {
	prometheus.MustRegister(eventCounter)
}

func recordEvent(objectType, aspectType, status string) {
	eventCounter.WithLabelValues(objectType, aspectType, status).Inc()
}
