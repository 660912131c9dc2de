package agents

import (
	"context"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
)

func init() {
	Register(config.KindEcho, func(config.ChannelConfig, Deps) (agent.Behavior, error) {
		return Echo{}, nil
	})
}

// Echo is a rule-based behavior, mostly useful for checking connectivity.
type Echo struct{}

// Actions implements agent.Behavior.
func (Echo) Actions() []agent.Action {
	return []agent.Action{
		{
			Name:    "ping",
			Help:    "Reply with pong.",
			Handler: ping,
		},
		{
			Name:    "echo",
			Help:    "Return the arguments unchanged.",
			Handler: echo,
		},
		{
			Name:    "say",
			Help:    "Return the content said.",
			Handler: repeat,
		},
	}
}

func ping(ctx context.Context, req *agent.Request) (any, error) {
	return nil, req.Reply(ctx, "pong", nil)
}

func echo(_ context.Context, req *agent.Request) (any, error) {
	if len(req.Envelope.Args) == 0 {
		return map[string]any{}, nil
	}
	return req.Envelope.Args, nil
}

func repeat(_ context.Context, req *agent.Request) (any, error) {
	return req.StringArg("content")
}
