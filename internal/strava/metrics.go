package strava

import "github.com/prometheus/client_golang/prometheus"

var (
	apiCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_sync",
		Subsystem: "client",
		Name:      "api_calls_total",
		Help:      "Number of Strava API calls grouped by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	cooldownCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strava_sync",
		Subsystem: "client",
		Name:      "rate_limit_cooldowns_total",
		Help:      "Number of cooldown sleeps taken after HTTP 429 responses.",
	})
)

func init() {
	prometheus.MustRegister(apiCallCounter, cooldownCounter)
}

func recordCall(endpoint, outcome string) {
	apiCallCounter.WithLabelValues(endpoint, outcome).Inc()
}

func recordCooldown() {
	cooldownCounter.Inc()
}
