// Package triage implements the deterministic fallback triage responder.
//
// Generate is a pure function over the transcript: coverage, the last asked
// topic and the acknowledgment rotation are all re-derived on every call, so
// it is safe to call concurrently and always returns the same reply for the
// same history.
package triage

// Role describes who authored a turn.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one conversational entry.  Transcripts are ordered oldest first.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reply is the structured assistant turn.  A nil RiskScore means the risk
// was not assessed on this turn.  Analysis is clinician-facing only.
type Reply struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	RiskScore  *int   `json:"risk_score"`
	Analysis   string `json:"analysis"`
	IsComplete bool   `json:"is_complete"`
	// Topic is the catalogue topic the reply asks about, empty for the
	// opening, forward-progress and safety replies.
	Topic TopicID `json:"topic,omitempty"`
}

// Generate produces the next assistant reply for history.
func Generate(history []Turn) Reply {
	v := newTranscriptView(history)

	if v.patientCount == 0 {
		return Reply{
			Role:     RoleAssistant,
			Content:  OpeningPrompt,
			Analysis: openingAnalysis,
		}
	}

	last, haveLast := LastAskedTopic(v.lastAssistant)
	topic := selectTopic(v.queue(), last, haveLast)

	ack := acknowledgments[v.patientCount%len(acknowledgments)]
	reply := Reply{
		Role:     RoleAssistant,
		Content:  ack + " " + topic.Question,
		Analysis: topic.Analysis,
		Topic:    topic.ID,
	}

	if Normalize(v.lastAssistant) != "" && Normalize(reply.Content) == Normalize(v.lastAssistant) {
		reply.Content = ForwardPrompt
		reply.Topic = ""
	}

	// Evaluated last so it replaces whatever the normal path composed.  The
	// whole patient history is scanned, so once crisis language appears
	// every later turn re-escalates.
	if ContainsAnyTerm(v.patientText, safetyTerms) {
		score := SafetyRiskScore
		reply.Content = SafetyScript
		reply.RiskScore = &score
		reply.Analysis = safetyAnalysis
		reply.Topic = ""
	}

	return reply
}
