package analysis

// Result is the structured output of the analysis service for one ticket.
type Result struct {
	ThreatAssessment   string   `json:"threat_assessment"`
	KeyIssues          []string `json:"key_issues"`
	UrgencyLevel       string   `json:"urgency_level"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Summary renders a short line for notification payloads.
func (r Result) Summary() string {
	if r.ThreatAssessment == "" {
		return "analysis completed"
	}
	const maxLen = 140
	if len(r.ThreatAssessment) > maxLen {
		return r.ThreatAssessment[:maxLen] + "..."
	}
	return r.ThreatAssessment
}

type request struct {
	Model       string  `json:"model,omitempty"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	Temperature float64 `json:"temperature,omitempty"`
}

type response struct {
	Result *Result `json:"result"`
	Error  string  `json:"error,omitempty"`
}
