package ticket

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "abuseflow/pkg/errors"
)

type Repository interface {
	Insert(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id string) (*Ticket, error)
	GetBySourceMessageID(ctx context.Context, messageID string) (*Ticket, error)
	// UpdateStatus applies a guarded transition: the row is only touched when
	// its current status still matches from. Returns false when the guard
	// did not match.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
	SetAnalysisResult(ctx context.Context, id string, result json.RawMessage) error
	ListRecent(ctx context.Context, limit int) ([]*Ticket, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const ticketColumns = `id, source_message_id, sender, recipient, subject, body, priority, status, analysis_result, created_at, updated_at`

func (r *PostgresRepository) Insert(ctx context.Context, t *Ticket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets (id, source_message_id, sender, recipient, subject, body, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.SourceMessageID, t.Sender, t.Recipient, t.Subject, t.Body, t.Priority, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Ticket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

func (r *PostgresRepository) GetBySourceMessageID(ctx context.Context, messageID string) (*Ticket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE source_message_id = $1`, messageID)
	return scanTicket(row)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update ticket status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update ticket status: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresRepository) SetAnalysisResult(ctx context.Context, id string, result json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET analysis_result = $1, updated_at = $2 WHERE id = $3`,
		[]byte(result), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set analysis result: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("count tickets: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	var analysis sql.NullString
	err := row.Scan(
		&t.ID, &t.SourceMessageID, &t.Sender, &t.Recipient, &t.Subject, &t.Body,
		&t.Priority, &t.Status, &analysis, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrNotFound.WithDetail("resource", "ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	if analysis.Valid {
		t.AnalysisResult = json.RawMessage(analysis.String)
	}
	return &t, nil
}
