package notify

import (
	"context"
	"database/sql"
	"fmt"
)

type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	ListByTicket(ctx context.Context, ticketID string) ([]*Record, error)
	CountByStatus(ctx context.Context) (map[RecordStatus]int, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_records (id, ticket_id, channel, status, detail, attempt, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TicketID, rec.Channel, rec.Status, rec.Detail, rec.Attempt, rec.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByTicket(ctx context.Context, ticketID string) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, channel, status, detail, attempt, attempted_at
		FROM notification_records WHERE ticket_id = $1
		ORDER BY attempted_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list notification records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.TicketID, &rec.Channel, &rec.Status, &rec.Detail, &rec.Attempt, &rec.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[RecordStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM notification_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count notification records: %w", err)
	}
	defer rows.Close()

	counts := make(map[RecordStatus]int)
	for rows.Next() {
		var status RecordStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("count notification records: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
