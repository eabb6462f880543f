package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"abuseflow/internal/logger"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/retry"
)

// CycleOutcome labels how a poll cycle ended.
type CycleOutcome string

const (
	CycleCompleted       CycleOutcome = "completed"
	CycleFailed          CycleOutcome = "failed"
	CycleSkippedInflight CycleOutcome = "skipped_inflight"
)

// PollerStatus is the admin-facing snapshot of the poller.
type PollerStatus struct {
	Enabled        bool      `json:"enabled"`
	InFlight       bool      `json:"in_flight"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastOutcome    string    `json:"last_outcome"`
	LastError      string    `json:"last_error,omitempty"`
	TicketsCreated int       `json:"last_cycle_tickets"`
}

// Poller drives the pipeline on a fixed interval. At most one cycle runs at a
// time: ticks and manual triggers that land while a cycle is in flight are
// skipped, never queued.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration
	policy   retry.Policy
	logger   logger.Logger

	inflight atomic.Bool
	enabled  atomic.Bool
	trigger  chan struct{}

	mu     sync.Mutex
	status PollerStatus
}

func NewPoller(pipeline *Pipeline, interval time.Duration, policy retry.Policy, log logger.Logger) *Poller {
	p := &Poller{
		pipeline: pipeline,
		interval: interval,
		policy:   policy,
		logger:   log,
		trigger:  make(chan struct{}, 1),
	}
	p.enabled.Store(true)
	return p
}

// Run loops until the context is cancelled. Intended to be started once under
// the service's errgroup.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Infow("Mailbox poller started",
		"interval", p.interval.String(),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First cycle runs immediately rather than waiting a full interval.
	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Mailbox poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if !p.enabled.Load() {
				continue
			}
			p.runCycle(ctx)
		case <-p.trigger:
			p.runCycle(ctx)
		}
	}
}

// runCycle executes one cycle under the single-flight guard.
func (p *Poller) runCycle(ctx context.Context) {
	if !p.inflight.CompareAndSwap(false, true) {
		metrics.PollCyclesTotal.WithLabelValues(string(CycleSkippedInflight)).Inc()
		p.logger.Debugw("Poll cycle skipped, previous cycle still in flight")
		p.recordOutcome(CycleSkippedInflight, nil, 0)
		return
	}
	defer p.inflight.Store(false)

	var createdTotal int
	err := retry.DoWithCallback(ctx, p.policy, func() error {
		created, err := p.pipeline.RunCycle(ctx)
		createdTotal += created
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("poller").Inc()
		p.logger.WarnwCtx(ctx, "Poll cycle failed, retrying",
			"attempt", attempt,
			"next_delay", nextDelay.String(),
			"error", err,
		)
	})

	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues(string(CycleFailed)).Inc()
		p.logger.ErrorwCtx(ctx, "Poll cycle failed",
			"error", err,
		)
		p.recordOutcome(CycleFailed, err, createdTotal)
		return
	}

	metrics.PollCyclesTotal.WithLabelValues(string(CycleCompleted)).Inc()
	p.recordOutcome(CycleCompleted, nil, createdTotal)
}

// TriggerNow requests an immediate cycle. Returns false when a cycle is
// already in flight or a trigger is already queued.
func (p *Poller) TriggerNow() bool {
	if p.inflight.Load() {
		return false
	}
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start re-enables scheduled polling after a Stop.
func (p *Poller) Start() {
	p.enabled.Store(true)
	p.logger.Infow("Mailbox polling enabled")
}

// Stop pauses scheduled polling. A cycle already in flight finishes.
func (p *Poller) Stop() {
	p.enabled.Store(false)
	p.logger.Infow("Mailbox polling disabled")
}

func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status
	st.Enabled = p.enabled.Load()
	st.InFlight = p.inflight.Load()
	return st
}

func (p *Poller) recordOutcome(outcome CycleOutcome, err error, created int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastCycleAt = time.Now().UTC()
	p.status.LastOutcome = string(outcome)
	p.status.TicketsCreated = created
	if err != nil {
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = ""
	}
}
