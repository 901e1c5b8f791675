// Package openai implements voice.LLM over the OpenAI chat completions API.
// Letta agents expose the same API and are reached with WithLetta.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"letta-telephony-agent/pkg/plugins"
	"letta-telephony-agent/pkg/voice"
)

const (
	DefaultModel = "gpt-4o-mini"

	LettaModel          = "letta-fast"
	DefaultLettaBaseURL = "https://api.letta.com/v1/voice-beta"
)

var (
	// ErrMissingAPIKey is returned when no API key is available.
	ErrMissingAPIKey = errors.New("openai: missing API key")
	// ErrMissingAgentID is returned by WithLetta without an agent id.
	ErrMissingAgentID = errors.New("openai: missing Letta agent id")
)

// Options configures a chat completions client. The API key falls back to
// OPENAI_API_KEY.
type Options struct {
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}

// LettaOptions selects a Letta agent. BaseURL falls back to LETTA_BASE_URL
// and then DefaultLettaBaseURL; APIKey falls back to LETTA_API_KEY.
type LettaOptions struct {
	AgentID    string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// LLM implements voice.LLM.
type LLM struct {
	client  openai.Client
	model   string
	baseURL string
}

var _ voice.LLM = (*LLM)(nil)

// NewLLM returns a chat completions client.
func NewLLM(opts Options) (*LLM, error) {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = plugins.SharedHTTPClient()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &LLM{
		client:  openai.NewClient(reqOpts...),
		model:   opts.Model,
		baseURL: opts.BaseURL,
	}, nil
}

// WithLetta returns an LLM that talks to one Letta agent.
func WithLetta(opts LettaOptions) (*LLM, error) {
	if strings.TrimSpace(opts.AgentID) == "" {
		return nil, ErrMissingAgentID
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("LETTA_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("letta: %w", ErrMissingAPIKey)
	}

	return NewLLM(Options{
		Model:      LettaModel,
		APIKey:     opts.APIKey,
		BaseURL:    LettaAgentURL(opts.BaseURL, opts.AgentID),
		HTTPClient: opts.HTTPClient,
	})
}

// LettaAgentURL returns the chat completions base URL of an agent.
func LettaAgentURL(baseURL, agentID string) string {
	if baseURL == "" {
		baseURL = os.Getenv("LETTA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = DefaultLettaBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + agentID
}

// Model returns the model name sent with each request.
func (l *LLM) Model() string {
	return l.model
}

// BaseURL returns the configured base URL, empty for the OpenAI default.
func (l *LLM) BaseURL() string {
	return l.baseURL
}

// Chat streams a completion for messages. onDelta, if set, receives each
// content delta as it arrives. The full reply is returned.
func (l *LLM) Chat(ctx context.Context, messages []voice.ChatMessage, onDelta func(string)) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(l.model),
		Messages: toParams(messages),
	}

	stream := l.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", l.model, err)
	}
	return reply.String(), nil
}

func toParams(messages []voice.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case voice.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case voice.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
