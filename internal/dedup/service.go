package dedup

import (
	"context"
	"fmt"
	"time"

	"abuseflow/internal/config"
	"abuseflow/internal/constants"
	"abuseflow/internal/logger"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/models"
	"abuseflow/pkg/tracing"
)

// Outcome of an admit call.
type Outcome int

const (
	Admitted Outcome = iota
	Duplicate
)

// Ledger is the deduplication gate in front of ticket creation. Admit is an
// atomic check-and-insert keyed on the source message identifier, so a
// redelivered message can never produce a second ticket.
type Ledger struct {
	repo   Repository
	cfg    config.DeduplicationConfig
	logger logger.Logger
}

func NewLedger(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}
}

func (l *Ledger) Admit(ctx context.Context, report models.AbuseReport) (Outcome, error) {
	ctx, span := tracing.GetTracer("monitor-service").Start(ctx, "dedup.admit")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return Duplicate, err
	}

	key := constants.DedupKeyPrefix + report.MessageID
	ttl := time.Duration(l.cfg.TTLSeconds) * time.Second

	start := time.Now()
	inserted, err := l.repo.InsertIfAbsent(ctx, key, time.Now().Unix(), ttl)
	duration := time.Since(start)

	if err != nil {
		metrics.DedupChecksTotal.WithLabelValues("error").Inc()
		metrics.ObserveDedupDuration(duration, "error")

		if l.cfg.OnRedisError == constants.FallbackAllow {
			l.logger.WarnwCtx(ctx, "Dedup ledger unavailable, admitting message (fallback: allow)",
				"error", err,
			)
			return Admitted, nil
		}
		return Duplicate, fmt.Errorf("dedup check for message %s: %w", report.MessageID, err)
	}

	if inserted {
		metrics.DedupChecksTotal.WithLabelValues("admitted").Inc()
		metrics.ObserveDedupDuration(duration, "admitted")
		return Admitted, nil
	}

	metrics.DedupChecksTotal.WithLabelValues("duplicate").Inc()
	metrics.ObserveDedupDuration(duration, "duplicate")
	return Duplicate, nil
}

// Size reports the number of ledger entries, used by the admin status call.
func (l *Ledger) Size(ctx context.Context) (int, error) {
	return l.repo.CountEntries(ctx, constants.DedupKeyPrefix)
}
