package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned when no API key was supplied.  Callers treat
// it as "use the fallback" rather than as a failure.
var ErrNotConfigured = errors.New("llm: no API key configured")

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is a minimal chat message used by the assessor.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client defines the methods required by the assessor and summariser.
// Chat accepts the full message history (system + prior turns + latest user)
// and asks for a JSON object back.
type Client interface {
	Configured() bool
	Chat(ctx context.Context, messages []Message) (string, error)
	Summarize(ctx context.Context, instruction, transcript string) (string, error)
}

// Options configures the OpenAI client.
type Options struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	SummaryModel string
}

// OpenAIClient calls the OpenAI API for triage and summarisation responses.
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	summaryModel string
}

// NewOpenAIClient constructs an OpenAI-backed LLM client.  An empty APIKey
// yields a client whose Configured method returns false.
func NewOpenAIClient(opts Options) *OpenAIClient {
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	summaryModel := opts.SummaryModel
	if summaryModel == "" {
		summaryModel = chatModel
	}
	c := &OpenAIClient{chatModel: chatModel, summaryModel: summaryModel}
	if opts.APIKey == "" {
		return c
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

// Configured reports whether an API key was supplied.
func (c *OpenAIClient) Configured() bool { return c != nil && c.client != nil }

// Chat sends the message history to the chat completion API and returns
// the assistant's raw JSON response.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    oaMsgs,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Summarize asks the summary model to condense a transcript following the
// given instruction.
func (c *OpenAIClient) Summarize(ctx context.Context, instruction, transcript string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
