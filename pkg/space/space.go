// Package space provides the transports that route envelopes between
// channels: LocalSpace for channels living in one process, and RedisSpace for
// channels spread over several processes sharing a Redis broker.
package space

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aixgo-dev/agency/agent"
)

// ErrSpaceClosed is returned by operations on a closed space.
var ErrSpaceClosed = errors.New("space closed")

// Option is a functional option shared by every space implementation.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(kind string, opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("space", kind)
	return o
}

// resolve selects the members an envelope is addressed to. An exact id match
// wins; otherwise broadcast and scope addresses fan out to every matching
// member except the sender.
func resolve(env *agent.Envelope, members []string) ([]string, error) {
	if !agent.IsBroadcast(env.To) {
		for _, id := range members {
			if id == env.To {
				return []string{id}, nil
			}
		}
		if !agent.IsScope(env.To) {
			return nil, fmt.Errorf("%w: %s", agent.ErrUnroutableDestination, env.To)
		}
	}

	var out []string
	for _, id := range members {
		if id == env.From {
			continue
		}
		if agent.MatchAddress(env.To, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", agent.ErrUnroutableDestination, env.To)
	}
	sort.Strings(out)
	return out, nil
}
