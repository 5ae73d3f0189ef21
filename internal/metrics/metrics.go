// README: Prometheus collectors for trips, settlement, notifications and HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zemi"

var (
	TripRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_requests_total", Help: "Trip requests by result"},
		[]string{"result"},
	)
	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Trip state transitions by event and result"},
		[]string{"event", "result"},
	)
	TripsExpired = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "trips_expired_total", Help: "Requested trips expired by the monitor"},
	)
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settlements_total", Help: "Trip settlements by result"},
		[]string{"result"},
	)
	WithdrawalVolume = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "withdrawal_amount_total", Help: "Sum of swept wallet amounts"},
	)
	CreditsGranted = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "credit_trips_granted_total", Help: "Trip credits granted by purchases"},
	)
	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Events dropped because the dispatch queue was full"},
	)
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_failures_total", Help: "Backend delivery failures"},
		[]string{"backend"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
