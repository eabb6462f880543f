package ticket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"abuseflow/internal/logger"
	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/models"
)

// Store owns ticket records. All mutation goes through Create and Transition;
// the guarded repository update gives per-record atomicity without any global
// locking.
type Store struct {
	repo   Repository
	logger logger.Logger
}

func NewStore(repo Repository, log logger.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: log,
	}
}

// Create makes a New ticket from an admitted report. The caller is expected
// to have passed the report through the dedup ledger first.
func (s *Store) Create(ctx context.Context, report models.AbuseReport) (*Ticket, error) {
	now := time.Now().UTC()
	t := &Ticket{
		ID:              uuid.NewString(),
		SourceMessageID: report.MessageID,
		Sender:          report.Sender,
		Recipient:       report.Recipient,
		Subject:         report.Subject,
		Body:            report.Body,
		Priority:        report.Priority,
		Status:          StatusNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, t); err != nil {
		return nil, err
	}

	metrics.TicketsCreatedTotal.WithLabelValues(string(t.Priority)).Inc()
	s.logger.InfowCtx(ctx, "Ticket created",
		"ticket_id", t.ID,
		"source_message_id", t.SourceMessageID,
		"priority", t.Priority,
	)
	return t, nil
}

// Transition applies a lifecycle event. Disallowed transitions and guard
// mismatches (a concurrent transition won the race) return InvalidTransition
// with the ticket left unchanged.
func (s *Store) Transition(ctx context.Context, id string, event Event) (*Ticket, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	to, ok := NextStatus(t.Status, event)
	if !ok {
		metrics.InvalidTransitionsTotal.Inc()
		s.logger.WarnwCtx(ctx, "Rejected ticket transition",
			"ticket_id", id,
			"status", t.Status,
			"event", event,
		)
		return nil, pkgerrors.ErrInvalidTransition.
			WithDetail("status", string(t.Status)).
			WithDetail("event", string(event))
	}

	applied, err := s.repo.UpdateStatus(ctx, id, t.Status, to)
	if err != nil {
		return nil, err
	}
	if !applied {
		metrics.InvalidTransitionsTotal.Inc()
		return nil, pkgerrors.ErrInvalidTransition.
			WithDetail("status", string(t.Status)).
			WithDetail("event", string(event)).
			WithDetail("reason", "concurrent transition")
	}

	metrics.TicketTransitionsTotal.WithLabelValues(string(to)).Inc()
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return t, nil
}

func (s *Store) SetAnalysisResult(ctx context.Context, id string, result json.RawMessage) error {
	return s.repo.SetAnalysisResult(ctx, id, result)
}

func (s *Store) Get(ctx context.Context, id string) (*Ticket, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Store) GetBySourceMessageID(ctx context.Context, messageID string) (*Ticket, error) {
	return s.repo.GetBySourceMessageID(ctx, messageID)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Ticket, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
