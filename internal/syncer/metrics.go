package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	runCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_sync",
		Subsystem: "syncer",
		Name:      "runs_total",
		Help:      "Number of bulk sync runs by outcome.",
	}, []string{"outcome"})

	activityCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_sync",
		Subsystem: "syncer",
		Name:      "activities_total",
		Help:      "Number of activities processed during bulk syncs by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(runCounter, activityCounter)
}

func recordRun(clean bool) {
	outcome := "clean"
	if !clean {
		outcome = "partial"
	}
	runCounter.WithLabelValues(outcome).Inc()
}

func recordActivity(result string) {
	activityCounter.WithLabelValues(result).Inc()
}
