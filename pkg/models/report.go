package models

import (
	"strings"
	"time"
)

// AbuseReport is the parsed, immutable form of one monitored email. The
// MessageID comes from protocol-level metadata, never from message content,
// so redeliveries of the same message always carry the same identifier.
type AbuseReport struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Priority   Priority  `json:"priority"`
	ReceivedAt time.Time `json:"received_at"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var highPriorityKeywords = []string{
	"urgent", "critical", "emergency", "immediate", "suspension",
	"termination", "legal", "dmca", "copyright", "law enforcement",
	"police", "court", "lawsuit", "violation", "breach",
}

var mediumPriorityKeywords = []string{
	"warning", "notice", "complaint", "abuse", "spam", "malware",
	"virus", "attack", "ddos", "resource abuse", "bandwidth",
}

// ClassifyPriority scans subject and body for escalation keywords.
func ClassifyPriority(subject, body string) Priority {
	content := strings.ToLower(subject + " " + body)

	for _, kw := range highPriorityKeywords {
		if strings.Contains(content, kw) {
			return PriorityHigh
		}
	}
	for _, kw := range mediumPriorityKeywords {
		if strings.Contains(content, kw) {
			return PriorityMedium
		}
	}
	return PriorityLow
}
