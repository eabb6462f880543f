package ticket

import (
	"encoding/json"
	"time"

	"abuseflow/pkg/models"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusAnalyzing Status = "analyzing"
	StatusAnalyzed  Status = "analyzed"
	StatusNotified  Status = "notified"
	StatusFailed    Status = "failed"
)

// Event is a lifecycle trigger. Transitions not listed in the table are
// rejected, never silently applied.
type Event string

const (
	EventAnalysisRequested  Event = "analysis_requested"
	EventAnalysisSucceeded  Event = "analysis_succeeded"
	EventAnalysisFailed     Event = "analysis_failed"
	EventNotified           Event = "notified"
	EventNotificationFailed Event = "notification_failed"
)

// transitions is the full lifecycle. Notified and Failed are terminal for the
// pipeline; reopening a ticket is an external administrative action.
var transitions = map[Status]map[Event]Status{
	StatusNew: {
		EventAnalysisRequested: StatusAnalyzing,
	},
	StatusAnalyzing: {
		EventAnalysisSucceeded: StatusAnalyzed,
		EventAnalysisFailed:    StatusFailed,
	},
	StatusAnalyzed: {
		EventNotified:           StatusNotified,
		EventNotificationFailed: StatusFailed,
	},
}

// NextStatus returns the target status for an event applied in the given
// status, or false when the transition is not allowed.
func NextStatus(from Status, event Event) (Status, bool) {
	targets, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := targets[event]
	return to, ok
}

// Ticket is the tracked record for one admitted abuse report. Exactly one
// ticket exists per source message identifier.
type Ticket struct {
	ID              string          `json:"id"`
	SourceMessageID string          `json:"source_message_id"`
	Sender          string          `json:"sender"`
	Recipient       string          `json:"recipient"`
	Subject         string          `json:"subject"`
	Body            string          `json:"body"`
	Priority        models.Priority `json:"priority"`
	Status          Status          `json:"status"`
	AnalysisResult  json.RawMessage `json:"analysis_result,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Event converts the ticket into the wire schema used by the live stream and
// notification channels.
func (t *Ticket) Event(summary string) models.TicketEvent {
	return models.TicketEvent{
		TicketID:  t.ID,
		Status:    string(t.Status),
		Priority:  t.Priority,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
}
