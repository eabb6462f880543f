package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"abuseflow/internal/config"
	"abuseflow/internal/logger"
	"abuseflow/pkg/circuitbreaker"
	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/retry"
	"abuseflow/pkg/tracing"
)

// Analyzer is the call boundary to the analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, subject, body string) (Result, error)
}

// Dispatcher wraps the analysis client with the operational envelope: a rate
// limiter shared across tickets, a circuit breaker, a bounded retry policy,
// and a per-ticket in-flight guard so a ticket is never analyzed twice
// concurrently.
type Dispatcher struct {
	analyzer Analyzer
	limiter  *rate.Limiter
	breaker  *circuitbreaker.Wrapper
	policy   retry.Policy
	logger   logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDispatcher(analyzer Analyzer, cfg config.AnalysisConfig, breaker *circuitbreaker.Wrapper, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		analyzer: analyzer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		breaker:  breaker,
		policy:   cfg.Retry.Policy(),
		logger:   log,
		inflight: make(map[string]struct{}),
	}
}

// ErrInFlight is returned when a ticket already has an analysis running.
var ErrInFlight = errors.New("analysis already in flight for ticket")

// Dispatch runs analysis for one ticket. Retries happen inside the single
// in-flight slot, so callers observe exactly one outcome per dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, ticketID, subject, body string) (Result, json.RawMessage, error) {
	if !d.acquire(ticketID) {
		return Result{}, nil, ErrInFlight
	}
	defer d.release(ticketID)

	ctx, span := tracing.GetTracer("analysis").Start(ctx, "analysis.dispatch")
	defer span.End()

	start := time.Now()
	var result Result

	err := retry.DoWithCallback(ctx, d.policy, func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return retry.NewFatalError(err)
		}

		out, err := d.breaker.Execute(ctx, func() (interface{}, error) {
			return d.analyzer.Analyze(ctx, subject, body)
		})
		if err != nil {
			return err
		}
		result = out.(Result)
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("analysis").Inc()
		d.logger.WarnwCtx(ctx, "Analysis attempt failed, retrying",
			"ticket_id", ticketID,
			"attempt", attempt,
			"next_delay", nextDelay.String(),
			"error", err,
		)
	})

	metrics.ObserveAnalysisDuration(time.Since(start))
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.AnalysisRequestsTotal.WithLabelValues(outcome).Inc()
		return Result{}, nil, pkgerrors.ErrAnalysis.WithCause(err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		metrics.AnalysisRequestsTotal.WithLabelValues("error").Inc()
		return Result{}, nil, pkgerrors.ErrAnalysis.WithCause(err).AsFatal()
	}

	metrics.AnalysisRequestsTotal.WithLabelValues("success").Inc()
	return result, raw, nil
}

// InFlight reports whether the ticket currently holds the analysis slot.
func (d *Dispatcher) InFlight(ticketID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[ticketID]
	return ok
}

func (d *Dispatcher) acquire(ticketID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[ticketID]; ok {
		return false
	}
	d.inflight[ticketID] = struct{}{}
	return true
}

func (d *Dispatcher) release(ticketID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, ticketID)
}
