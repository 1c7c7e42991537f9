package pkg

import "time"

// Session represents one intake conversation opened from a public link.
// It is keyed by a UUID and closed by a clinician once reviewed.
type Session struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	MessageCap int        `json:"message_cap"`
	ClientIP   *string    `json:"client_ip,omitempty"`
	UserAgent  *string    `json:"user_agent,omitempty"`
}

// MessageRole describes who authored a message.
type MessageRole string

const (
	RolePatient   MessageRole = "patient"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ReplySource records whether an assistant message came from the live model
// or the deterministic fallback.
type ReplySource string

const (
	SourceModel    ReplySource = "model"
	SourceFallback ReplySource = "fallback"
)

// Message represents a chat message in a session.  RiskScore, Analysis and
// Source are only set on assistant messages; Analysis is never shown to the
// patient.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	RiskScore *int        `json:"risk_score,omitempty"`
	Analysis  string      `json:"analysis,omitempty"`
	Source    ReplySource `json:"source,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// RiskBand is the coarse bucket clinicians triage by.
type RiskBand string

const (
	BandHigh       RiskBand = "high"
	BandModerate   RiskBand = "moderate"
	BandLow        RiskBand = "low"
	BandUnassessed RiskBand = "unassessed"
)

// Summary holds the clinician-facing summary for a session.
type Summary struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	KeyPoints      []string  `json:"key_points"`
	CoveredTopics  []string  `json:"covered_topics"`
	PeakRiskScore  *int      `json:"peak_risk_score,omitempty"`
	RiskBand       RiskBand  `json:"risk_band"`
	SafetyConcern  bool      `json:"safety_concern"`
	LatestAnalysis string    `json:"latest_analysis"`
	FreeText       string    `json:"free_text"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChatRequest represents a request to send a message from the patient.
type ChatRequest struct {
	Content string `json:"content"`
}

// ChatResponse is returned to the patient.  It deliberately omits the
// analysis text.
type ChatResponse struct {
	Reply      string `json:"reply"`
	RiskScore  *int   `json:"risk_score"`
	IsComplete bool   `json:"is_complete"`
	Capped     bool   `json:"capped"`
}

// QueueEntry is one row of the clinician's risk-stratified queue.
type QueueEntry struct {
	SessionID     string    `json:"session_id"`
	RiskBand      RiskBand  `json:"risk_band"`
	PeakRiskScore *int      `json:"peak_risk_score,omitempty"`
	SafetyConcern bool      `json:"safety_concern"`
	KeyPoints     []string  `json:"key_points"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastMessage   time.Time `json:"last_message"`
}
