package models

import "time"

// TicketEvent is the wire schema shared by the live event stream and the
// external messaging channel.
type TicketEvent struct {
	TicketID  string    `json:"ticket_id"`
	Status    string    `json:"status"`
	Priority  Priority  `json:"priority,omitempty"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}
