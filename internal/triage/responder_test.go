package triage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patient(s string) Turn   { return Turn{Role: RolePatient, Content: s} }
func assistant(s string) Turn { return Turn{Role: RoleAssistant, Content: s} }

func question(t *testing.T, id TopicID) string {
	t.Helper()
	topic, ok := Lookup(id)
	require.True(t, ok, "topic %s missing", id)
	return topic.Question
}

func TestGenerate_OpeningPrompt(t *testing.T) {
	cases := map[string][]Turn{
		"empty":          nil,
		"assistant seed": {assistant(OpeningPrompt)},
		"system only":    {{Role: RoleSystem, Content: "I want to kill myself"}},
	}
	for name, history := range cases {
		t.Run(name, func(t *testing.T) {
			reply := Generate(history)
			assert.Equal(t, RoleAssistant, reply.Role)
			assert.Equal(t, OpeningPrompt, reply.Content)
			assert.Nil(t, reply.RiskScore)
			assert.NotEmpty(t, reply.Analysis)
			assert.False(t, reply.IsComplete)
		})
	}
}

func TestGenerate_ExampleScenarioAsksTriggers(t *testing.T) {
	history := []Turn{
		assistant(OpeningPrompt),
		patient("I've been anxious for 3 weeks, it's gotten worse, and I can't sleep"),
	}

	reply := Generate(history)

	assert.Equal(t, TopicTriggers, reply.Topic)
	assert.Nil(t, reply.RiskScore)
	assert.True(t, strings.HasSuffix(reply.Content, question(t, TopicTriggers)))
	assert.True(t, strings.HasPrefix(reply.Content, acknowledgments[1]))
	assert.False(t, reply.IsComplete)
}

func TestGenerate_ProgressiveCoverageAsksImpact(t *testing.T) {
	history := []Turn{
		patient("It started two weeks ago and it keeps getting worse. Crowds trigger it."),
	}

	reply := Generate(history)

	assert.Equal(t, TopicImpact, reply.Topic)
	assert.Contains(t, reply.Content, question(t, TopicImpact))
}

func TestGenerate_SkipsTopicAskedLast(t *testing.T) {
	// Nothing in the answer covers onset, so onset stays first in the queue.
	history := []Turn{
		patient("I feel low"),
		assistant(acknowledgments[1] + " " + question(t, TopicOnset)),
		patient("not sure"),
	}

	reply := Generate(history)

	assert.Equal(t, TopicTrend, reply.Topic)
}

func TestGenerate_SummaryAlwaysReachable(t *testing.T) {
	history := []Turn{
		patient("It started a month ago, it is getting worse, stress makes it worse, " +
			"I can't sleep and I take 50 mg of sertraline"),
		assistant(question(t, TopicSafety)),
		patient("No, nothing like that"),
	}

	reply := Generate(history)

	assert.Equal(t, TopicSummary, reply.Topic)
	assert.Contains(t, reply.Content, question(t, TopicSummary))
	assert.Nil(t, reply.RiskScore)
}

func TestGenerate_SafetyAskedOnceAfterContentTopics(t *testing.T) {
	history := []Turn{
		patient("It started a month ago, it is getting worse, stress makes it worse, " +
			"I can't sleep and I take 50 mg of sertraline"),
	}

	reply := Generate(history)
	assert.Equal(t, TopicSafety, reply.Topic)

	history = append(history, assistant(reply.Content), patient("no"))
	reply = Generate(history)
	assert.Equal(t, TopicSummary, reply.Topic)
}

func TestGenerate_RepetitionGuard(t *testing.T) {
	covered := "It started a month ago, it is getting worse, stress makes it worse, " +
		"I can't sleep and I take 50 mg of sertraline"
	// Two patient turns select acknowledgment index 2 with only summary left.
	repeat := "  " + strings.ToUpper(acknowledgments[2]+"   "+question(t, TopicSummary)) + " "
	history := []Turn{
		patient(covered),
		assistant(question(t, TopicSafety)),
		patient("no"),
		assistant(repeat),
	}

	reply := Generate(history)

	assert.Equal(t, ForwardPrompt, reply.Content)
	assert.NotEqual(t, Normalize(repeat), Normalize(reply.Content))
	assert.Empty(t, reply.Topic)
}

func TestGenerate_NeverRepeatsLastAssistantTurn(t *testing.T) {
	history := []Turn{patient("hello")}
	for i := 0; i < 12; i++ {
		reply := Generate(history)
		if i > 0 {
			last := history[len(history)-1-1].Content
			assert.NotEqual(t, Normalize(last), Normalize(reply.Content), "turn %d repeated", i)
		}
		history = append(history, assistant(reply.Content), patient("I don't know"))
	}
}

func TestGenerate_SafetyOverride(t *testing.T) {
	cases := map[string][]Turn{
		"latest turn": {
			patient("I've felt low for weeks"),
			assistant(acknowledgments[1] + " " + question(t, TopicTrend)),
			patient("Worse. Sometimes I think about suicide."),
		},
		"earlier turn is sticky": {
			patient("I want to hurt myself"),
			assistant(SafetyScript),
			patient("I'm okay now, it started last month"),
		},
		"first message": {
			patient("I can't stay safe tonight"),
		},
	}
	for name, history := range cases {
		t.Run(name, func(t *testing.T) {
			reply := Generate(history)
			require.NotNil(t, reply.RiskScore)
			assert.Equal(t, SafetyRiskScore, *reply.RiskScore)
			assert.Equal(t, SafetyScript, reply.Content)
			assert.Equal(t, safetyAnalysis, reply.Analysis)
			assert.False(t, reply.IsComplete)
		})
	}
}

func TestGenerate_IgnoresSystemTurns(t *testing.T) {
	withSystem := []Turn{
		{Role: RoleSystem, Content: "side effect week worse trigger sleep"},
		patient("hi"),
	}
	without := []Turn{patient("hi")}

	assert.Equal(t, Generate(without), Generate(withSystem))
}

func TestGenerate_Deterministic(t *testing.T) {
	history := []Turn{
		patient("anxious for a week"),
		assistant("Thanks. " + question(t, TopicTrend)),
		patient("about the same"),
	}

	first := Generate(history)
	second := Generate(history)

	assert.Equal(t, first, second)
}
