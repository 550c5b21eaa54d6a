package queue

import "github.com/prometheus/client_golang/prometheus"

var publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "strava_sync",
	Subsystem: "queue",
	Name:      "messages_published_total",
	Help:      "Number of resync messages published per topic.",
}, []string{"topic"})

func init() {
	prometheus.MustRegister(publishedCounter)
}

func recordPublished(topic string, count int) {
	publishedCounter.WithLabelValues(topic).Add(float64(count))
}
