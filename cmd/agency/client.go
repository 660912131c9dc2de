package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
)

// client is a short-lived channel joined to the configured space on behalf
// of a CLI command.
type client struct {
	space   agent.Space
	ch      *agent.Channel
	inbox   chan *agent.Envelope
	stopRun context.CancelFunc
	done    chan struct{}
}

// listener accepts and forwards every envelope it receives.
type listener struct {
	inbox chan<- *agent.Envelope
}

func (l listener) Actions() []agent.Action { return nil }

func (l listener) HandleUnknown(context.Context, *agent.Request) (any, error) { return nil, nil }

func (l listener) Observe(env *agent.Envelope) {
	select {
	case l.inbox <- env:
	default:
		slog.Debug("dropping envelope, inbox full", "id", env.Meta.ID, "action", env.Action)
	}
}

// connect joins a channel named "<name>.<random>" so that concurrent
// invocations never collide, while "<name>" still addresses all of them.
func connect(ctx context.Context, configFile, name string) (*client, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Space.Kind == config.SpaceLocal {
		return nil, errors.New("a local space is only reachable inside 'agency run'; set space.kind to redis")
	}

	sp, err := agency.NewSpace(ctx, cfg.Space, slog.Default())
	if err != nil {
		return nil, err
	}
	inbox := make(chan *agent.Envelope, 64)
	id := name + "." + uuid.NewString()[:8]
	ch, err := agent.New(id, sp, listener{inbox: inbox})
	if err != nil {
		_ = sp.Close(ctx)
		return nil, err
	}
	if err := ch.Join(ctx); err != nil {
		_ = sp.Close(ctx)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &client{space: sp, ch: ch, inbox: inbox, stopRun: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		if err := ch.Run(runCtx); err != nil {
			slog.Error("channel stopped", "error", err)
		}
	}()
	return c, nil
}

// waitReply returns the first envelope threaded under id.
func (c *client) waitReply(ctx context.Context, id string) (*agent.Envelope, error) {
	for {
		select {
		case env := <-c.inbox:
			if env.Meta.ParentID == id {
				return env, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TODO: drop the ephemeral queue on close; RedisSpace.Leave keeps it for
// channels that rejoin under the same id.
func (c *client) close() {
	c.stopRun()
	<-c.done
	ctx := context.Background()
	if err := c.ch.Close(ctx); err != nil {
		slog.Warn("failed to leave space", "error", err)
	}
	if err := c.space.Close(ctx); err != nil {
		slog.Warn("failed to close space", "error", err)
	}
}
