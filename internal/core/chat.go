package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-triage/internal/llm"
	"intake-triage/internal/logger"
	"intake-triage/internal/triage"
	"intake-triage/pkg"
)

// ErrInvalidTranscript is returned when the history handed to Respond
// violates the responder's preconditions.
var ErrInvalidTranscript = errors.New("invalid transcript")

// Assessor orchestrates the intake conversation.  It tries the live model
// first and falls back to the deterministic triage responder when the model
// is not configured, fails, or returns something unusable.
type Assessor struct {
	LLM          llm.Client
	Logger       *zap.Logger
	ModelTimeout time.Duration
}

// NewAssessor constructs an Assessor.  A nil logger is replaced by a no-op
// logger.
func NewAssessor(client llm.Client, logger *zap.Logger, modelTimeout time.Duration) *Assessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{LLM: client, Logger: logger, ModelTimeout: modelTimeout}
}

// modelReply mirrors the JSON object requested in SystemPrompt.  The score is
// decoded as a float because models occasionally emit 42.0.
type modelReply struct {
	Content    string   `json:"content"`
	RiskScore  *float64 `json:"risk_score"`
	Analysis   string   `json:"analysis"`
	IsComplete bool     `json:"is_complete"`
}

// Respond produces the next assistant turn for history and reports which
// source produced it.  The only error is ErrInvalidTranscript; model
// failures are logged and absorbed by the fallback.
func (a *Assessor) Respond(ctx context.Context, sessionID string, history []triage.Turn) (triage.Reply, pkg.ReplySource, error) {
	if err := ValidateTranscript(history); err != nil {
		return triage.Reply{}, "", err
	}
	log := logger.WithSession(a.Logger, sessionID)

	if a.LLM == nil || !a.LLM.Configured() {
		log.Debug("model not configured, using fallback triage")
		return triage.Generate(history), pkg.SourceFallback, nil
	}
	// Crisis language anywhere in the history always gets the fixed safety
	// script and score, never a model-authored reply.
	if triage.HasSafetyConcern(history) {
		log.Warn("safety concern in transcript, skipping model")
		return triage.Generate(history), pkg.SourceFallback, nil
	}

	reply, err := a.askModel(ctx, history)
	if err != nil {
		log.Warn("model reply unusable, using fallback triage", zap.Error(err))
		return triage.Generate(history), pkg.SourceFallback, nil
	}
	return reply, pkg.SourceModel, nil
}

func (a *Assessor) askModel(ctx context.Context, history []triage.Turn) (triage.Reply, error) {
	if a.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.ModelTimeout)
		defer cancel()
	}

	raw, err := a.LLM.Chat(ctx, toModelMessages(history))
	if err != nil {
		return triage.Reply{}, fmt.Errorf("model call: %w", err)
	}
	reply, err := parseModelReply(raw)
	if err != nil {
		return triage.Reply{}, err
	}
	if last := lastAssistant(history); last != "" && triage.Normalize(last) == triage.Normalize(reply.Content) {
		return triage.Reply{}, errors.New("model repeated its previous question")
	}
	return reply, nil
}

func parseModelReply(raw string) (triage.Reply, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in a fenced block despite the response format.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var m modelReply
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return triage.Reply{}, fmt.Errorf("decode model reply: %w", err)
	}
	if strings.TrimSpace(m.Content) == "" {
		return triage.Reply{}, errors.New("model reply has no content")
	}
	var score *int
	if m.RiskScore != nil {
		v := ClampRisk(*m.RiskScore)
		score = &v
	}
	return triage.Reply{
		Role:       triage.RoleAssistant,
		Content:    strings.TrimSpace(m.Content),
		RiskScore:  score,
		Analysis:   m.Analysis,
		IsComplete: m.IsComplete,
	}, nil
}

// ValidateTranscript rejects turns with unknown roles and blank patient
// turns.
func ValidateTranscript(history []triage.Turn) error {
	for i, t := range history {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: turn %d has unknown role %q", ErrInvalidTranscript, i, t.Role)
		}
		if t.Role == triage.RolePatient && strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("%w: patient turn %d is empty", ErrInvalidTranscript, i)
		}
	}
	return nil
}

func toModelMessages(history []triage.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: SystemPrompt})
	for _, t := range history {
		switch t.Role {
		case triage.RolePatient:
			msgs = append(msgs, llm.Message{Role: "user", Content: t.Content})
		case triage.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: "assistant", Content: t.Content})
		case triage.RoleSystem:
			msgs = append(msgs, llm.Message{Role: "system", Content: t.Content})
		}
	}
	return msgs
}

func lastAssistant(history []triage.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == triage.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// TurnsFromMessages converts stored messages into responder turns.
func TurnsFromMessages(msgs []pkg.Message) []triage.Turn {
	turns := make([]triage.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, triage.Turn{Role: triage.Role(m.Role), Content: m.Content})
	}
	return turns
}
