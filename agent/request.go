package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is what a handler sees of the envelope being dispatched and of the
// channel executing it.
type Request struct {
	Envelope *Envelope
	ch       *Channel
}

// Self returns the id of the channel running the handler.
func (r *Request) Self() string {
	return r.ch.id
}

// Sender returns the address of the requester.
func (r *Request) Sender() string {
	return r.Envelope.From
}

// Send routes a new envelope through the channel's space.
func (r *Request) Send(ctx context.Context, env *Envelope) error {
	return r.ch.Send(ctx, env)
}

// Reply sends an envelope back to the requester, threaded under the request.
func (r *Request) Reply(ctx context.Context, action string, args map[string]any) error {
	return r.ch.Send(ctx, r.Envelope.Reply(action, args))
}

// Log returns a snapshot of the channel's message log. The current request
// is its last received entry.
func (r *Request) Log() []*Envelope {
	return r.ch.log.Entries()
}

// StringArg returns a required string argument.
func (r *Request) StringArg(name string) (string, error) {
	v, ok := r.Envelope.Args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %T", name, v)
	}
	return s, nil
}

// OptionalString returns a string argument or def when it is absent.
func (r *Request) OptionalString(name, def string) string {
	if s, ok := r.Envelope.Args[name].(string); ok {
		return s
	}
	return def
}

// BoolArg returns a boolean argument, false when absent.
func (r *Request) BoolArg(name string) (bool, error) {
	v, ok := r.Envelope.Args[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q: expected bool, got %T", name, v)
	}
	return b, nil
}

// FloatArg returns a numeric argument. Numbers decoded from the wire are
// float64; in-process senders may pass any Go integer or float type.
func (r *Request) FloatArg(name string) (float64, error) {
	v, ok := r.Envelope.Args[name]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", name, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("argument %q: expected number, got %T", name, v)
	}
}
