package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/observability"
)

// LocalSpace routes envelopes between channels of the same process by handing
// them directly to the destination mailbox. It has no network failure modes.
//
// LocalSpace is thread-safe and can be used concurrently.
type LocalSpace struct {
	mu      sync.RWMutex
	members map[string]agent.Mailbox
	closed  bool
	logger  *slog.Logger
}

// NewLocalSpace creates an in-process space.
func NewLocalSpace(opts ...Option) *LocalSpace {
	o := buildOptions("local", opts)
	return &LocalSpace{
		members: make(map[string]agent.Mailbox),
		logger:  o.logger,
	}
}

// Join registers a mailbox under id.
func (s *LocalSpace) Join(_ context.Context, id string, mb agent.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSpaceClosed
	}
	if _, exists := s.members[id]; exists {
		return fmt.Errorf("%w: %s", agent.ErrDuplicateChannel, id)
	}
	s.members[id] = mb
	observability.SetLiveChannels("local", len(s.members))
	s.logger.Debug("channel joined", "id", id)
	return nil
}

// Leave removes id from the registry.
func (s *LocalSpace) Leave(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[id]; !exists {
		return fmt.Errorf("%w: %s", agent.ErrChannelNotFound, id)
	}
	delete(s.members, id)
	observability.SetLiveChannels("local", len(s.members))
	s.logger.Debug("channel left", "id", id)
	return nil
}

// Resolve returns the ids env would be delivered to.
func (s *LocalSpace) Resolve(_ context.Context, env *agent.Envelope) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSpaceClosed
	}
	return resolve(env, s.memberIDs())
}

// Route hands a copy of env to every matching mailbox. Delivery to one
// mailbox failing does not prevent delivery to the others.
func (s *LocalSpace) Route(ctx context.Context, env *agent.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSpaceClosed
	}
	ids, err := resolve(env, s.memberIDs())
	if err != nil {
		s.mu.RUnlock()
		observability.RecordRoute("local", "unroutable")
		s.logger.Debug("unroutable envelope", "to", env.To, "action", env.Action)
		return err
	}
	targets := make([]agent.Mailbox, len(ids))
	for i, id := range ids {
		targets[i] = s.members[id]
	}
	s.mu.RUnlock()

	var errs []error
	for i, mb := range targets {
		if err := mb.Deliver(env.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("deliver to %s: %w", ids[i], err))
		}
	}
	if len(errs) > 0 {
		observability.RecordRoute("local", "failed")
		return errors.Join(errs...)
	}
	observability.RecordRoute("local", "delivered")
	return nil
}

// Discover returns the ids of all joined channels.
func (s *LocalSpace) Discover(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberIDs(), nil
}

// Ping always succeeds; it exists so health checks treat spaces uniformly.
func (s *LocalSpace) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSpaceClosed
	}
	return nil
}

// Close unregisters every channel. Their mailboxes are left to their owners.
func (s *LocalSpace) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.members = make(map[string]agent.Mailbox)
	observability.SetLiveChannels("local", 0)
	return nil
}

// memberIDs must be called with s.mu held.
func (s *LocalSpace) memberIDs() []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
