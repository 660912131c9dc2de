package agent

import "context"

// Space routes envelopes between channels by address. Implementations must be
// safe for concurrent use by many channels.
//
// Two implementations ship with the module: an in-process space for
// zero-latency delivery within one binary, and a broker-backed space for
// channels spread over several processes (see package pkg/space).
type Space interface {
	// Resolve returns the ids of the channels env would be delivered to.
	// Broadcast and scope addresses never include the sender.
	// Fails with ErrUnroutableDestination when nothing matches.
	Resolve(ctx context.Context, env *Envelope) ([]string, error)

	// Route resolves env and enqueues it in every matching mailbox.
	Route(ctx context.Context, env *Envelope) error

	// Join registers a mailbox under id and announces it to other members.
	Join(ctx context.Context, id string, mb Mailbox) error

	// Leave unregisters id and announces its departure.
	Leave(ctx context.Context, id string) error

	// Discover returns the ids of the currently live channels.
	Discover(ctx context.Context) ([]string, error)

	// Close releases the space's resources.
	Close(ctx context.Context) error
}
