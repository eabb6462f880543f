package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"abuseflow/internal/analysis"
	"abuseflow/internal/archive"
	"abuseflow/internal/broadcast"
	"abuseflow/internal/dedup"
	"abuseflow/internal/logger"
	"abuseflow/internal/mailbox"
	"abuseflow/internal/notify"
	"abuseflow/internal/ticket"
	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/logging"
	"abuseflow/pkg/metrics"
)

// Pipeline runs one ingestion cycle end to end: fetch, archive, parse,
// filter, dedup, ticket creation, then per-ticket analysis and notification.
// A message is only marked seen in the mailbox after its outcome is durable,
// so a crash mid-cycle redelivers instead of losing reports.
type Pipeline struct {
	source      mailbox.Source
	parser      *mailbox.Parser
	filter      *mailbox.Filter
	archive     archive.Repository
	ledger      *dedup.Ledger
	tickets     *ticket.Store
	analyzer    *analysis.Dispatcher
	notifier    *notify.Dispatcher
	broadcaster *broadcast.Broadcaster
	logger      logger.Logger
}

func NewPipeline(
	source mailbox.Source,
	parser *mailbox.Parser,
	filter *mailbox.Filter,
	archiveRepo archive.Repository,
	ledger *dedup.Ledger,
	tickets *ticket.Store,
	analyzer *analysis.Dispatcher,
	notifier *notify.Dispatcher,
	broadcaster *broadcast.Broadcaster,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		source:      source,
		parser:      parser,
		filter:      filter,
		archive:     archiveRepo,
		ledger:      ledger,
		tickets:     tickets,
		analyzer:    analyzer,
		notifier:    notifier,
		broadcaster: broadcaster,
		logger:      log,
	}
}

// RunCycle processes everything currently unseen in the mailbox. It returns
// the number of tickets created; per-message failures are logged and skipped
// rather than aborting the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (int, error) {
	messages, err := p.source.FetchUnseen(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch unseen messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}
	metrics.MessagesFetchedTotal.Add(float64(len(messages)))

	var (
		created  []*ticket.Ticket
		doneUIDs []uint32
	)

	for _, raw := range messages {
		t, done, err := p.processMessage(ctx, raw)
		if err != nil {
			p.logger.ErrorwCtx(ctx, "Failed to process message, leaving unseen for redelivery",
				"uid", raw.UID,
				"error", err,
			)
			continue
		}
		if done {
			doneUIDs = append(doneUIDs, raw.UID)
		}
		if t != nil {
			created = append(created, t)
		}
	}

	// Marking seen is the commit point of the at-least-once handoff: every
	// UID here has a durable outcome (ticket, duplicate, rejection, or an
	// archived unparseable message).
	if len(doneUIDs) > 0 {
		if err := p.source.MarkSeen(ctx, doneUIDs); err != nil {
			p.logger.ErrorwCtx(ctx, "Failed to mark messages seen, duplicates will be absorbed by the ledger",
				"uids", len(doneUIDs),
				"error", err,
			)
		}
	}

	// Each ticket runs its analyze-then-notify sequence on one goroutine, so
	// per-ticket ordering holds while tickets proceed in parallel.
	var g errgroup.Group
	for _, t := range created {
		t := t
		g.Go(func() error {
			defer func() {
				if err := pkgerrors.RecoverPanic(recover()); err != nil {
					p.logger.ErrorwCtx(ctx, "Ticket processing panicked",
						"ticket_id", t.ID,
						"error", err,
					)
				}
			}()
			p.processTicket(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	return len(created), nil
}

// processMessage takes one raw message to a durable outcome. The returned
// bool reports whether the message may be marked seen.
func (p *Pipeline) processMessage(ctx context.Context, raw mailbox.RawMessage) (*ticket.Ticket, bool, error) {
	report, err := p.parser.Parse(raw)
	if err != nil {
		if !pkgerrors.IsParse(err) {
			return nil, false, err
		}
		// Unparseable messages are archived for inspection and then
		// dropped; retrying cannot fix them.
		metrics.ParseFailuresTotal.Inc()
		p.logger.WarnwCtx(ctx, "Skipping unparseable message",
			"uid", raw.UID,
			"error", err,
		)
		if archiveErr := p.archive.Store(ctx, archive.Document{
			UID:       raw.UID,
			Raw:       raw.Raw,
			FetchedAt: raw.FetchedAt,
		}); archiveErr != nil {
			return nil, false, archiveErr
		}
		return nil, true, nil
	}

	ctx = logging.WithMessageID(ctx, report.MessageID)

	ok, err := p.filter.Matches(ctx, report)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.FilterRejectedTotal.Inc()
		p.logger.DebugwCtx(ctx, "Message rejected by filter",
			"sender", report.Sender,
		)
		return nil, true, nil
	}

	if err := p.archive.Store(ctx, archive.Document{
		UID:       raw.UID,
		MessageID: report.MessageID,
		Raw:       raw.Raw,
		FetchedAt: raw.FetchedAt,
	}); err != nil {
		return nil, false, err
	}

	outcome, err := p.ledger.Admit(ctx, report)
	if err != nil {
		return nil, false, err
	}
	if outcome == dedup.Duplicate {
		p.logger.InfowCtx(ctx, "Duplicate message dropped")
		return nil, true, nil
	}

	t, err := p.tickets.Create(ctx, report)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// processTicket drives one ticket from New to a terminal status. Every
// transition is broadcast; analysis failure still notifies the channels so
// operators see failed tickets, not silence.
func (p *Pipeline) processTicket(ctx context.Context, t *ticket.Ticket) {
	ctx = logging.WithTicketID(ctx, t.ID)

	t, err := p.transition(ctx, t.ID, ticket.EventAnalysisRequested, "analysis started")
	if err != nil {
		return
	}

	result, raw, err := p.analyzer.Dispatch(ctx, t.ID, t.Subject, t.Body)
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Analysis failed for ticket",
			"error", err,
		)
		t, terr := p.transition(ctx, t.ID, ticket.EventAnalysisFailed, "analysis failed")
		if terr != nil {
			return
		}
		p.notifier.Dispatch(ctx, t.ID, t.Event("analysis failed"))
		return
	}

	if err := p.tickets.SetAnalysisResult(ctx, t.ID, json.RawMessage(raw)); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to persist analysis result",
			"error", err,
		)
	}

	t, err = p.transition(ctx, t.ID, ticket.EventAnalysisSucceeded, result.Summary())
	if err != nil {
		return
	}

	summary := p.notifier.Dispatch(ctx, t.ID, t.Event(result.Summary()))
	event := ticket.EventNotificationFailed
	detail := "notification failed on all channels"
	if summary.Delivered() {
		event = ticket.EventNotified
		detail = result.Summary()
	}
	_, _ = p.transition(ctx, t.ID, event, detail)
}

func (p *Pipeline) transition(ctx context.Context, id string, event ticket.Event, summary string) (*ticket.Ticket, error) {
	t, err := p.tickets.Transition(ctx, id, event)
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Ticket transition failed",
			"event", event,
			"error", err,
		)
		return nil, err
	}
	p.broadcaster.Publish(t.Event(summary))
	return t, nil
}
