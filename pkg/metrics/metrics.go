package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_poll_cycles_total",
			Help: "Mailbox poll cycles by outcome (completed, failed, skipped_inflight)",
		},
		[]string{"outcome"},
	)

	MessagesFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseflow_messages_fetched_total",
			Help: "Raw messages fetched from the mailbox",
		},
	)

	ParseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseflow_parse_failures_total",
			Help: "Messages skipped because they could not be parsed",
		},
	)

	FilterRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseflow_filter_rejected_total",
			Help: "Parsed reports rejected by the sender/subject filter",
		},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_dedup_checks_total",
			Help: "Dedup ledger admit calls by outcome (admitted, duplicate, error)",
		},
		[]string{"outcome"},
	)

	dedupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "abuseflow_dedup_duration_seconds",
			Help:    "Latency of dedup ledger admit calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	TicketsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_tickets_created_total",
			Help: "Tickets created, by priority",
		},
		[]string{"priority"},
	)

	TicketTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_ticket_transitions_total",
			Help: "Ticket lifecycle transitions by target status",
		},
		[]string{"to_status"},
	)

	InvalidTransitionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseflow_invalid_transitions_total",
			Help: "Rejected ticket lifecycle transitions",
		},
	)

	AnalysisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_analysis_requests_total",
			Help: "Analysis service calls by outcome (success, error, timeout)",
		},
		[]string{"outcome"},
	)

	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "abuseflow_analysis_duration_seconds",
			Help:    "Latency of analysis service calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	NotificationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_notification_attempts_total",
			Help: "Notification channel attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseflow_retry_attempts_total",
			Help: "Retry attempts by component",
		},
		[]string{"component"},
	)

	BroadcastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "abuseflow_broadcast_subscribers",
			Help: "Currently connected event stream subscribers",
		},
	)

	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseflow_broadcast_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "abuseflow_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	ArchivedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseflow_archived_messages_total",
			Help: "Raw messages written to the archive",
		},
	)
)

var registered bool

// Register installs all pipeline collectors on the default registry. Safe to
// call once per process; tests use their own registries via the exported vars.
func Register() {
	if registered {
		return
	}
	registered = true

	prometheus.MustRegister(
		PollCyclesTotal,
		MessagesFetchedTotal,
		ParseFailuresTotal,
		FilterRejectedTotal,
		DedupChecksTotal,
		dedupDuration,
		TicketsCreatedTotal,
		TicketTransitionsTotal,
		InvalidTransitionsTotal,
		AnalysisRequestsTotal,
		analysisDuration,
		NotificationAttemptsTotal,
		RetryAttemptsTotal,
		BroadcastSubscribers,
		BroadcastDroppedTotal,
		CircuitBreakerState,
		ArchivedMessagesTotal,
	)
}

func ObserveDedupDuration(d time.Duration, outcome string) {
	dedupDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func ObserveAnalysisDuration(d time.Duration) {
	analysisDuration.Observe(d.Seconds())
}
