package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"abuseflow/internal/config"
	"abuseflow/internal/constants"
	"abuseflow/internal/logger"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/models"
	"abuseflow/pkg/retry"
)

// Summary is the aggregate outcome of one fan-out across all channels.
type Summary struct {
	Sent     int
	Failed   int
	Disabled int
}

// Delivered reports whether the ticket should be considered notified: at
// least one channel accepted the event, or every channel was disabled and
// there was nothing to deliver.
func (s Summary) Delivered() bool {
	return s.Sent > 0 || (s.Failed == 0 && s.Disabled > 0)
}

// Dispatcher fans a ticket event out to every configured channel. Channels
// are isolated from each other: a hanging or failing channel consumes only
// its own slot and timeout, never the peers'.
type Dispatcher struct {
	channels []Channel
	repo     Repository
	policy   retry.Policy
	timeout  time.Duration
	limit    int
	logger   logger.Logger
}

func NewDispatcher(channels []Channel, repo Repository, cfg config.NotificationsConfig, log logger.Logger) *Dispatcher {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = constants.DefaultChannelTimeout
	}
	limit := cfg.MaxParallelism
	if limit <= 0 {
		limit = len(channels)
	}
	if limit <= 0 {
		limit = 1
	}
	return &Dispatcher{
		channels: channels,
		repo:     repo,
		policy:   cfg.Retry.Policy(),
		timeout:  timeout,
		limit:    limit,
		logger:   log,
	}
}

// Dispatch sends the event everywhere and records every attempt. It always
// returns a summary; channel errors are captured in records rather than
// propagated, so one bad channel cannot abort the fan-out.
func (d *Dispatcher) Dispatch(ctx context.Context, ticketID string, event models.TicketEvent) Summary {
	var (
		mu      sync.Mutex
		summary Summary
	)

	var g errgroup.Group
	g.SetLimit(d.limit)

	for _, ch := range d.channels {
		ch := ch
		g.Go(func() error {
			outcome := d.dispatchChannel(ctx, ch, ticketID, event)
			mu.Lock()
			switch outcome {
			case StatusSent:
				summary.Sent++
			case StatusDisabled:
				summary.Disabled++
			default:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return summary
}

// dispatchChannel runs one channel to a terminal status. Disabled channels
// get exactly one record and are never retried.
func (d *Dispatcher) dispatchChannel(ctx context.Context, ch Channel, ticketID string, event models.TicketEvent) RecordStatus {
	if !ch.Enabled() {
		d.record(ctx, ticketID, ch.Name(), StatusDisabled, "channel disabled", 1)
		return StatusDisabled
	}

	attempt := 0
	lastRecorded := 0
	err := retry.DoWithCallback(ctx, d.policy, func() error {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return ch.Send(sendCtx, event)
	}, func(failedAttempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("notify").Inc()
		d.record(ctx, ticketID, ch.Name(), StatusFailed, err.Error(), failedAttempt)
		lastRecorded = failedAttempt
		d.logger.WarnwCtx(ctx, "Notification attempt failed, retrying",
			"ticket_id", ticketID,
			"channel", ch.Name(),
			"attempt", failedAttempt,
			"next_delay", nextDelay.String(),
			"error", err,
		)
	})

	if err != nil {
		// The callback fires before a retry sleep, so on normal exhaustion
		// the final attempt still needs its record. When backoff stops early
		// (cancellation, elapsed-time cutoff) the callback already covered
		// the attempt; a second record for it would corrupt the audit trail.
		if lastRecorded < attempt {
			d.record(ctx, ticketID, ch.Name(), StatusFailed, err.Error(), attempt)
		}
		d.logger.ErrorwCtx(ctx, "Notification channel exhausted retries",
			"ticket_id", ticketID,
			"channel", ch.Name(),
			"attempts", attempt,
			"error", err,
		)
		return StatusFailed
	}

	d.record(ctx, ticketID, ch.Name(), StatusSent, "", attempt)
	return StatusSent
}

func (d *Dispatcher) record(ctx context.Context, ticketID, channel string, status RecordStatus, detail string, attempt int) {
	metrics.NotificationAttemptsTotal.WithLabelValues(channel, string(status)).Inc()

	rec := &Record{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		Channel:     channel,
		Status:      status,
		Detail:      detail,
		Attempt:     attempt,
		AttemptedAt: time.Now().UTC(),
	}
	if err := d.repo.Insert(ctx, rec); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to persist notification record",
			"ticket_id", ticketID,
			"channel", channel,
			"status", status,
			"error", err,
		)
	}
}

// ListByTicket exposes the audit trail for the admin API.
func (d *Dispatcher) ListByTicket(ctx context.Context, ticketID string) ([]*Record, error) {
	return d.repo.ListByTicket(ctx, ticketID)
}

func (d *Dispatcher) CountByStatus(ctx context.Context) (map[RecordStatus]int, error) {
	return d.repo.CountByStatus(ctx)
}
