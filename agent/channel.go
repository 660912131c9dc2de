package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// Behavior is implemented by every concrete kind of agent (rule-based,
// model-backed, human-operated). It declares the capability set a channel is
// built from.
type Behavior interface {
	Actions() []Action
}

// Observer is implemented by behaviors that want to see every inbound
// envelope before it is dispatched, whatever its action.
type Observer interface {
	Observe(env *Envelope)
}

// Catchall is implemented by behaviors that accept actions they do not
// declare. Such actions are always permitted and are not announced.
type Catchall interface {
	HandleUnknown(ctx context.Context, req *Request) (any, error)
}

// Actions is a literal capability set.
type Actions []Action

// Actions implements Behavior.
func (a Actions) Actions() []Action { return a }

// Option configures a Channel.
type Option func(*channelOptions)

type channelOptions struct {
	granter  Granter
	logger   *slog.Logger
	capacity int
}

// WithGranter sets the grant interface consulted for conditional actions.
// Without one every conditional request is refused.
func WithGranter(g Granter) Option {
	return func(o *channelOptions) {
		o.granter = g
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *channelOptions) {
		o.logger = l
	}
}

// WithMailboxCapacity bounds the inbound queue. 0 means unbounded.
func WithMailboxCapacity(n int) Option {
	return func(o *channelOptions) {
		o.capacity = n
	}
}

// Channel is an addressable actor: it owns a mailbox, an immutable action
// registry and a message log, and processes its mailbox one envelope at a
// time. Channels only reference each other by address through their Space.
type Channel struct {
	id      string
	space   Space
	actions *ActionTable
	mailbox *Queue
	log     MessageLog
	gate    *grantGate
	logger  *slog.Logger

	observer Observer
	catchall Handler

	peersMu sync.RWMutex
	peers   map[string][]ActionInfo

	mu     sync.Mutex
	joined bool
	closed bool
}

// New builds a channel from a behavior's declared actions. Built-in discovery,
// return and error actions are added unless the behavior declares its own.
func New(id string, space Space, b Behavior, opts ...Option) (*Channel, error) {
	if strings.TrimSpace(id) == "" || strings.Contains(id, Broadcast) {
		return nil, fmt.Errorf("invalid channel id %q", id)
	}
	if space == nil {
		return nil, errors.New("channel requires a space")
	}

	o := channelOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var declared []Action
	if b != nil {
		declared = b.Actions()
	}
	table, err := NewActionTable(declared...)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", id, err)
	}

	c := &Channel{
		id:      id,
		space:   space,
		mailbox: NewQueue(o.capacity),
		gate:    newGrantGate(o.granter),
		logger:  o.logger.With("channel", id),
		peers:   make(map[string][]ActionInfo),
	}
	c.actions = table.withDefaults(c.builtins()...)
	if o, ok := b.(Observer); ok {
		c.observer = o
	}
	if ca, ok := b.(Catchall); ok {
		c.catchall = ca.HandleUnknown
	}
	return c, nil
}

// ID returns the channel's address.
func (c *Channel) ID() string {
	return c.id
}

// Mailbox reports how many envelopes wait to be dispatched and the mailbox
// capacity, 0 when unbounded.
func (c *Channel) Mailbox() (depth, capacity int) {
	return c.mailbox.Len(), c.mailbox.Cap()
}

// Capabilities lists the externally invokable actions.
func (c *Channel) Capabilities() []ActionInfo {
	return c.actions.Infos()
}

// Log returns a snapshot of the message log.
func (c *Channel) Log() []*Envelope {
	return c.log.Entries()
}

// Peers returns the channels that answered a discovery request, with the
// actions they announced.
func (c *Channel) Peers() map[string][]ActionInfo {
	c.peersMu.RLock()
	defer c.peersMu.RUnlock()
	out := make(map[string][]ActionInfo, len(c.peers))
	for id, infos := range c.peers {
		out[id] = infos
	}
	return out
}

// Granted reports whether a conditional grant is cached for the pair.
func (c *Channel) Granted(sender, action string) bool {
	return c.gate.Granted(sender, action)
}

// Deliver enqueues env directly in the channel's mailbox, bypassing the space.
func (c *Channel) Deliver(env *Envelope) error {
	return c.mailbox.Deliver(env)
}

// Join registers the channel's mailbox with its space.
func (c *Channel) Join(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrMailboxClosed
	}
	if c.joined {
		return nil
	}
	if err := c.space.Join(ctx, c.id, c.mailbox); err != nil {
		return fmt.Errorf("join %s: %w", c.id, err)
	}
	c.joined = true
	c.logger.Debug("channel joined space")
	return nil
}

// Run processes the mailbox until the channel is closed or ctx is done, in
// which case it returns nil. It returns the transport error when the space
// reports that no further messages can arrive.
func (c *Channel) Run(ctx context.Context) error {
	for {
		env, err := c.mailbox.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrMailboxClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error("channel stopped", "error", err)
			return err
		}
		metrics.SetMailboxDepth(c.id, c.mailbox.Len())
		c.dispatch(ctx, env)
	}
}

// Close leaves the space and discards any envelopes still queued.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	joined := c.joined
	c.joined = false
	c.mu.Unlock()

	var err error
	if joined {
		if lerr := c.space.Leave(ctx, c.id); lerr != nil && !errors.Is(lerr, ErrChannelNotFound) {
			err = fmt.Errorf("leave %s: %w", c.id, lerr)
		}
	}
	if n := c.mailbox.Close(); n > 0 {
		c.logger.Info("discarded queued envelopes", "count", n)
	}
	return err
}

// Send stamps env with this channel's address, records it in the message log
// and routes it. When the destination is unroutable an error envelope is
// also queued back to this channel.
func (c *Channel) Send(ctx context.Context, env *Envelope) error {
	env.From = c.id
	if env.Meta.ID == "" {
		fresh := NewEnvelope(env.To, env.Action, env.Args)
		env.Meta = fresh.Meta
	}
	c.log.Append(env)

	err := c.space.Route(ctx, env)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnroutableDestination) && env.Action != ActionError {
		notice := env.Reply(ActionError, errorArgs(env, err))
		notice.From = env.To
		notice.To = c.id
		if derr := c.mailbox.Deliver(notice); derr != nil {
			c.logger.Warn("could not queue unroutable notice", "error", derr)
		}
	}
	return err
}

// Discover broadcasts a discovery request. Answers arrive asynchronously as
// announce envelopes and are collected in Peers.
func (c *Channel) Discover(ctx context.Context) error {
	env := NewEnvelope(Broadcast, ActionDiscover, nil)
	env.From = c.id
	if _, err := c.space.Resolve(ctx, env); err != nil {
		if errors.Is(err, ErrUnroutableDestination) {
			// Alone in the space.
			return nil
		}
		return err
	}
	return c.Send(ctx, env)
}
