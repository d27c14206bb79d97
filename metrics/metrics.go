// Package metrics provides Prometheus metrics for the news summariser.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "news_summariser"

var (
	// PipelineRuns counts pipeline runs by outcome.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of summarisation pipeline runs",
		},
		[]string{"status"},
	)

	// PipelineDuration measures a full collect, summarise and save run.
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// ArticlesCollected observes how many articles a run kept.
	ArticlesCollected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "articles_collected",
			Help:      "Distribution of articles with content per run",
			Buckets:   []float64{0, 1, 2, 5, 8, 10},
		},
	)

	// EmailsSent counts emails by kind and status.
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Total number of emails handed to the mail provider",
		},
		[]string{"kind", "status"},
	)

	// Subscriptions counts subscription flow events.
	Subscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_events_total",
			Help:      "Total number of subscription requests, verifications and unsubscribes",
		},
		[]string{"event"},
	)

	// HTTPRequests counts requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)
)

// RecordRun records a finished pipeline run.
func RecordRun(status string, articles int, seconds float64) {
	PipelineRuns.WithLabelValues(status).Inc()
	PipelineDuration.Observe(seconds)
	ArticlesCollected.Observe(float64(articles))
}

// RecordEmail records one send attempt.
func RecordEmail(kind string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	EmailsSent.WithLabelValues(kind, status).Inc()
}

// RecordSubscription records a subscription flow event such as
// "requested", "activated", "already_verified" or "unsubscribed".
func RecordSubscription(event string) {
	Subscriptions.WithLabelValues(event).Inc()
}
