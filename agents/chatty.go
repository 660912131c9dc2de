package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
)

func init() {
	Register(config.KindChatty, func(cfg config.ChannelConfig, deps Deps) (agent.Behavior, error) {
		if deps.OpenAI == nil {
			return nil, errors.New("chatty channel requires an OpenAI client")
		}
		return NewChatty(deps.OpenAI, ChattyOptions{
			Model:       cfg.Setting("model", deps.Model),
			MaxTokens:   deps.MaxTokens,
			Temperature: deps.Temperature,
			Preamble:    cfg.Setting("preamble", ""),
			Logger:      deps.Logger,
		}), nil
	})
}

// OpenAIClient interface for testability
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient returns a client for the OpenAI API, or for any compatible
// server when baseURL is set.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

const defaultPreamble = `Below is a conversation between "ChattyAI", an awesome AI that follows
instructions, and the channels it talks to. Answer as the last speaker.`

// ChattyOptions configures a Chatty behavior.
type ChattyOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Preamble    string
	Logger      *slog.Logger
}

// Chatty is a model-backed behavior. Each "say" is answered by a chat
// completion over the channel's whole message log.
type Chatty struct {
	client OpenAIClient
	opts   ChattyOptions
}

// NewChatty creates a Chatty behavior.
func NewChatty(client OpenAIClient, opts ChattyOptions) *Chatty {
	if opts.Preamble == "" {
		opts.Preamble = defaultPreamble
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chatty{client: client, opts: opts}
}

// Actions implements agent.Behavior.
func (c *Chatty) Actions() []agent.Action {
	return []agent.Action{{
		Name:    "say",
		Help:    "Say something to the model. It answers with say.",
		Handler: c.say,
	}}
}

func (c *Chatty) say(ctx context.Context, req *agent.Request) (any, error) {
	if _, err := req.StringArg("content"); err != nil {
		return nil, err
	}

	transcript := Transcript(req.Log(), req.Self())
	c.opts.Logger.Debug("sending transcript to model", "model", c.opts.Model, "bytes", len(transcript))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Stop:        []string{"\n###"},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.opts.Preamble},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	content := strings.TrimSpace(CutTurn(resp.Choices[0].Message.Content))
	return nil, req.Reply(ctx, "say", map[string]any{"content": content})
}

// Transcript renders a message log as a prompt: one "### <speaker>: " line
// per entry, say entries by their content and others as JSON, ending with an
// open turn for self.
func Transcript(log []*agent.Envelope, self string) string {
	var b strings.Builder
	for _, env := range log {
		b.WriteString(turn(env.From))
		if content, ok := env.Args["content"].(string); ok && env.Action == "say" {
			b.WriteString(content)
			continue
		}
		data, err := json.Marshal(env)
		if err != nil {
			b.WriteString(env.String())
			continue
		}
		b.Write(data)
	}
	b.WriteString(turn(self))
	return b.String()
}

func turn(speaker string) string {
	id, _ := agent.SplitAddress(speaker)
	return "\n### " + id + ": "
}

// CutTurn drops anything a model generated past the end of its own turn.
func CutTurn(text string) string {
	before, _, _ := strings.Cut(text, "\n###")
	return before
}
