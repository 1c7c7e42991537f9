package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-triage/internal/llm"
	"intake-triage/internal/logger"
	"intake-triage/internal/triage"
	"intake-triage/pkg"
)

// Summarizer builds the clinician-facing summary of a session.  Risk fields
// are always derived from the stored assistant turns; the model, when
// available, only contributes key points and free text.
type Summarizer struct {
	LLM    llm.Client
	Logger *zap.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// NewSummarizer constructs a summariser.
func NewSummarizer(client llm.Client, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{LLM: client, Logger: logger, Now: time.Now}
}

type modelSummary struct {
	KeyPoints []string `json:"key_points"`
	FreeText  string   `json:"free_text"`
}

// Summarize analyses the transcript and produces a Summary.  The transcript
// must be ordered chronologically.  The previous summary, if any, keeps its
// ID so the caller can upsert.  A model failure is returned alongside the
// deterministic summary, which is always usable.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, transcript []pkg.Message, previous *pkg.Summary) (*pkg.Summary, error) {
	turns := TurnsFromMessages(transcript)

	sum := &pkg.Summary{
		SessionID:     sessionID,
		SafetyConcern: triage.HasSafetyConcern(turns),
		UpdatedAt:     s.Now(),
	}
	if previous != nil {
		sum.ID = previous.ID
	}
	for _, id := range triage.CoveredTopics(turns) {
		sum.CoveredTopics = append(sum.CoveredTopics, string(id))
	}
	for _, m := range transcript {
		if m.Role != pkg.RoleAssistant {
			continue
		}
		if m.RiskScore != nil && (sum.PeakRiskScore == nil || *m.RiskScore > *sum.PeakRiskScore) {
			v := *m.RiskScore
			sum.PeakRiskScore = &v
		}
		if m.Analysis != "" {
			sum.LatestAnalysis = m.Analysis
		}
	}
	sum.RiskBand = RiskBand(sum.PeakRiskScore)
	if sum.SafetyConcern {
		// Crisis language always surfaces as high risk, whatever the model scored.
		sum.RiskBand = pkg.BandHigh
	}
	sum.KeyPoints, sum.FreeText = fallbackNarrative(sum, transcript)

	if s.LLM == nil || !s.LLM.Configured() {
		return sum, nil
	}
	raw, err := s.LLM.Summarize(ctx, SummarizationInstruction, renderTranscript(transcript))
	if err != nil {
		return sum, fmt.Errorf("summarise session %s: %w", sessionID, err)
	}
	var ms modelSummary
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ms); err != nil {
		return sum, fmt.Errorf("decode summary for session %s: %w", sessionID, err)
	}
	if len(ms.KeyPoints) > 0 {
		sum.KeyPoints = ms.KeyPoints
	}
	if strings.TrimSpace(ms.FreeText) != "" {
		sum.FreeText = strings.TrimSpace(ms.FreeText)
	}
	logger.WithSession(s.Logger, sessionID).Debug("model summary applied", zap.Int("key_points", len(sum.KeyPoints)))
	return sum, nil
}

func fallbackNarrative(sum *pkg.Summary, transcript []pkg.Message) ([]string, string) {
	var points []string
	if sum.SafetyConcern {
		points = append(points, "Safety concern raised by patient")
	}
	var first string
	for _, m := range transcript {
		if m.Role == pkg.RolePatient {
			first = m.Content
			break
		}
	}
	if first != "" {
		points = append(points, "Presenting complaint: "+truncate(first, 140))
	}
	if len(sum.CoveredTopics) > 0 {
		points = append(points, "Topics covered: "+strings.Join(sum.CoveredTopics, ", "))
	}
	var missing []string
	for _, t := range triage.Topics() {
		if t.ID == triage.TopicSummary || contains(sum.CoveredTopics, string(t.ID)) {
			continue
		}
		missing = append(missing, string(t.ID))
	}
	if len(missing) > 0 {
		points = append(points, "Not yet covered: "+strings.Join(missing, ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Risk band: %s.", sum.RiskBand)
	if sum.PeakRiskScore != nil {
		fmt.Fprintf(&b, " Peak risk score %d.", *sum.PeakRiskScore)
	}
	if sum.LatestAnalysis != "" {
		fmt.Fprintf(&b, " Latest note: %s", sum.LatestAnalysis)
	}
	return points, b.String()
}

func renderTranscript(transcript []pkg.Message) string {
	var b strings.Builder
	for _, m := range transcript {
		if m.Role == pkg.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
