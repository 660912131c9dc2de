package agents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/space"
)

// mockOpenAIClient is a mock implementation of OpenAIClient for testing
type mockOpenAIClient struct {
	mu        sync.Mutex
	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest
}

// addReply queues a completion whose only choice carries content.
func (m *mockOpenAIClient) addReply(content string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
	})
	m.errors = append(m.errors, err)
}

func (m *mockOpenAIClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.calls)
	m.calls = append(m.calls, req)
	if i >= len(m.responses) {
		return openai.ChatCompletionResponse{}, nil
	}
	return m.responses[i], m.errors[i]
}

func (m *mockOpenAIClient) getCalls() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), m.calls...)
}

const waitFor = 2 * time.Second

func startChannel(t *testing.T, s agent.Space, id string, b agent.Behavior, opts ...agent.Option) *agent.Channel {
	t.Helper()
	ch, err := agent.New(id, s, b, opts...)
	require.NoError(t, err)
	require.NoError(t, ch.Join(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = ch.Close(context.Background())
	})
	return ch
}

// inbox collects what a test channel receives.
type inbox struct {
	mu   sync.Mutex
	envs []*agent.Envelope
}

func (i *inbox) Actions() []agent.Action { return nil }

func (i *inbox) HandleUnknown(context.Context, *agent.Request) (any, error) { return nil, nil }

func (i *inbox) Observe(env *agent.Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.envs = append(i.envs, env)
}

func (i *inbox) wait(t *testing.T, action string) *agent.Envelope {
	t.Helper()
	var found *agent.Envelope
	require.Eventually(t, func() bool {
		i.mu.Lock()
		defer i.mu.Unlock()
		for _, env := range i.envs {
			if env.Action == action {
				found = env
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond, "no %q envelope received", action)
	return found
}

// harness runs b as channel id next to a "Tester" inbox on a local space.
func harness(t *testing.T, id string, b agent.Behavior, opts ...agent.Option) (*agent.Channel, *inbox) {
	t.Helper()
	s := space.NewLocalSpace()
	startChannel(t, s, id, b, opts...)
	in := &inbox{}
	return startChannel(t, s, "Tester", in), in
}
