package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayAttempts counts provider create calls, labelled by gateway,
	// subject type and result (success, rejected, ambiguous).
	GatewayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_gateway_attempts_total",
		Help: "Provider create attempts by gateway, subject and result.",
	}, []string{"gateway", "subject", "result"})

	// WebhooksProcessed counts inbound webhook deliveries by provider and
	// outcome (processed, duplicate, signature_invalid, unparseable,
	// subject_not_found, invalid_transition, internal).
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhooks_total",
		Help: "Inbound webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})

	// QuotesIssued counts conversion quotes by currency pair.
	QuotesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_quotes_issued_total",
		Help: "Conversion quotes issued by source and target currency.",
	}, []string{"source", "target"})

	// PayoutsScheduled counts automatic payouts submitted by the scheduler.
	PayoutsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_scheduler_payouts_total",
		Help: "Automatic payouts submitted by scheduler runs.",
	})

	// SchedulerSkips counts developers skipped per run, by reason
	// (below_threshold, interval, missing_account, error).
	SchedulerSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_scheduler_skips_total",
		Help: "Developers skipped by scheduler runs, by reason.",
	}, []string{"reason"})
)
