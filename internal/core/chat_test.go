package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-triage/internal/llm"
	"intake-triage/internal/triage"
	"intake-triage/pkg"
)

// fakeLLM is a scripted llm.Client.
type fakeLLM struct {
	configured bool
	chat       string
	chatErr    error
	summary    string
	summaryErr error
	got        []llm.Message
}

func (f *fakeLLM) Configured() bool { return f.configured }

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.got = messages
	return f.chat, f.chatErr
}

func (f *fakeLLM) Summarize(context.Context, string, string) (string, error) {
	return f.summary, f.summaryErr
}

var anxious = []triage.Turn{
	{Role: triage.RolePatient, Content: "I've been anxious for 3 weeks, it's gotten worse, and I can't sleep"},
}

func TestRespond_FallbackWhenNotConfigured(t *testing.T) {
	client := &fakeLLM{configured: false, chat: `{"content":"should not be used"}`}
	a := NewAssessor(client, nil, time.Second)

	reply, source, err := a.Respond(context.Background(), "s1", anxious)

	require.NoError(t, err)
	assert.Equal(t, pkg.SourceFallback, source)
	assert.Equal(t, triage.Generate(anxious), reply)
	assert.Nil(t, client.got)
}

func TestRespond_UsesModelReply(t *testing.T) {
	client := &fakeLLM{
		configured: true,
		chat:       `{"content":"What tends to set it off?","risk_score":34.6,"analysis":"moderate anxiety","is_complete":false}`,
	}
	a := NewAssessor(client, nil, time.Second)

	reply, source, err := a.Respond(context.Background(), "s1", anxious)

	require.NoError(t, err)
	assert.Equal(t, pkg.SourceModel, source)
	assert.Equal(t, "What tends to set it off?", reply.Content)
	require.NotNil(t, reply.RiskScore)
	assert.Equal(t, 35, *reply.RiskScore)
	assert.Equal(t, "moderate anxiety", reply.Analysis)

	require.Len(t, client.got, 2)
	assert.Equal(t, "system", client.got[0].Role)
	assert.Equal(t, "user", client.got[1].Role)
}

func TestRespond_FallbackOnUnusableModelOutput(t *testing.T) {
	last := "Does anything make it worse?"
	history := append([]triage.Turn{}, anxious...)
	history = append(history,
		triage.Turn{Role: triage.RoleAssistant, Content: last},
		triage.Turn{Role: triage.RolePatient, Content: "not really"},
	)

	cases := map[string]*fakeLLM{
		"call error":    {configured: true, chatErr: errors.New("boom")},
		"not json":      {configured: true, chat: "sure, here is a question"},
		"empty content": {configured: true, chat: `{"content":"  ","risk_score":10}`},
		"repeat":        {configured: true, chat: `{"content":"does anything   make it WORSE?"}`},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAssessor(client, nil, time.Second)
			reply, source, err := a.Respond(context.Background(), "s1", history)
			require.NoError(t, err)
			assert.Equal(t, pkg.SourceFallback, source)
			assert.Equal(t, triage.Generate(history), reply)
		})
	}
}

func TestRespond_RejectsUnknownRole(t *testing.T) {
	a := NewAssessor(nil, nil, 0)
	_, _, err := a.Respond(context.Background(), "s1", []triage.Turn{{Role: "doctor", Content: "hi"}})
	assert.ErrorIs(t, err, ErrInvalidTranscript)
}

func TestRespond_RejectsBlankPatientTurn(t *testing.T) {
	a := NewAssessor(nil, nil, 0)
	for _, content := range []string{"", "   ", "\n\t"} {
		_, _, err := a.Respond(context.Background(), "s1", []triage.Turn{
			{Role: triage.RoleAssistant, Content: triage.OpeningPrompt},
			{Role: triage.RolePatient, Content: content},
		})
		assert.ErrorIs(t, err, ErrInvalidTranscript, "content %q", content)
	}

	// Blank assistant and system turns are not patient input.
	_, _, err := a.Respond(context.Background(), "s1", []triage.Turn{
		{Role: triage.RoleSystem, Content: ""},
		{Role: triage.RoleAssistant, Content: ""},
	})
	assert.NoError(t, err)
}

func TestRespond_SafetyConcernOverridesModel(t *testing.T) {
	client := &fakeLLM{
		configured: true,
		chat:       `{"content":"How has your week been?","risk_score":5,"analysis":"low risk"}`,
	}
	a := NewAssessor(client, nil, time.Second)
	history := []triage.Turn{
		{Role: triage.RolePatient, Content: "Some days I want to kill myself"},
	}

	reply, source, err := a.Respond(context.Background(), "s1", history)

	require.NoError(t, err)
	assert.Equal(t, pkg.SourceFallback, source)
	assert.Equal(t, triage.SafetyScript, reply.Content)
	require.NotNil(t, reply.RiskScore)
	assert.Equal(t, triage.SafetyRiskScore, *reply.RiskScore)
	assert.Nil(t, client.got, "model must not be consulted")
}

func TestParseModelReply(t *testing.T) {
	reply, err := parseModelReply("```json\n{\"content\":\"Hi\",\"risk_score\":140}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Hi", reply.Content)
	require.NotNil(t, reply.RiskScore)
	assert.Equal(t, 100, *reply.RiskScore)

	reply, err = parseModelReply(`{"content":"Hi","risk_score":1e20}`)
	require.NoError(t, err)
	require.NotNil(t, reply.RiskScore)
	assert.Equal(t, 100, *reply.RiskScore)

	reply, err = parseModelReply(`{"content":"Hi","risk_score":-1e20}`)
	require.NoError(t, err)
	require.NotNil(t, reply.RiskScore)
	assert.Equal(t, 0, *reply.RiskScore)

	reply, err = parseModelReply(`{"content":"Hi","risk_score":null}`)
	require.NoError(t, err)
	assert.Nil(t, reply.RiskScore)
}

func TestRiskBand(t *testing.T) {
	score := func(v int) *int { return &v }
	assert.Equal(t, pkg.BandUnassessed, RiskBand(nil))
	assert.Equal(t, pkg.BandLow, RiskBand(score(39)))
	assert.Equal(t, pkg.BandModerate, RiskBand(score(40)))
	assert.Equal(t, pkg.BandHigh, RiskBand(score(triage.SafetyRiskScore)))
	assert.Equal(t, 0, ClampRisk(-5))
	assert.Equal(t, 35, ClampRisk(34.6))
	assert.Equal(t, 100, ClampRisk(1e20))
	assert.Equal(t, 0, ClampRisk(-1e20))
}
