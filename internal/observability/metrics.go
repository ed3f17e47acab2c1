package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_reservations", Name: "reservations_created_total", Help: "Total reservations created"})
	ReservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_reservations", Name: "reservation_transitions_total", Help: "Reservation status transitions applied"},
		[]string{"action"},
	)
	ChatMessagesPosted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_reservations", Name: "chat_messages_posted_total", Help: "Total chat messages posted"})
	ChatPollCycles     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_reservations", Name: "chat_poll_cycles_total", Help: "Chat polling refresh cycles executed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_reservations", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_reservations",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
