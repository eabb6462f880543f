package notify

import "time"

// RecordStatus is the terminal state of one delivery attempt.
type RecordStatus string

const (
	StatusSent     RecordStatus = "sent"
	StatusFailed   RecordStatus = "failed"
	StatusDisabled RecordStatus = "disabled"
	StatusPending  RecordStatus = "pending"
)

// Record is the audit trail entry for one notification attempt on one
// channel. Every attempt gets its own record, including attempts against
// disabled channels.
type Record struct {
	ID          string       `json:"id"`
	TicketID    string       `json:"ticket_id"`
	Channel     string       `json:"channel"`
	Status      RecordStatus `json:"status"`
	Detail      string       `json:"detail,omitempty"`
	Attempt     int          `json:"attempt"`
	AttemptedAt time.Time    `json:"attempted_at"`
}
