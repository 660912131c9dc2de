package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit of communication between channels.
// The same structure is used in memory and on the wire.
type Envelope struct {
	// From is the address of the sending channel. It is set by the
	// channel when the envelope is sent.
	From string `json:"from"`

	// To is the destination address. An empty address or "*" is a broadcast,
	// an unqualified channel id ("Host") addresses every channel in that scope.
	To string `json:"to"`

	// Action names the capability being invoked on the destination.
	Action string `json:"action"`

	// Args maps parameter names to values. The shape is agreed on by
	// convention between the sender and the destination handler.
	Args map[string]any `json:"args,omitempty"`

	// Thoughts is optional free text attached by the sender. It is never
	// interpreted by the dispatcher.
	Thoughts string `json:"thoughts,omitempty"`

	Meta Meta `json:"meta"`
}

// Meta carries correlation and threading data.
type Meta struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parent_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEnvelope creates an envelope addressed to a destination.
// A unique ID and timestamp are automatically generated. The sender address
// is filled in when the envelope is sent through a channel.
func NewEnvelope(to, action string, args map[string]any) *Envelope {
	id := uuid.New().String()
	return &Envelope{
		To:     to,
		Action: action,
		Args:   args,
		Meta: Meta{
			ID:            id,
			CorrelationID: id,
			Timestamp:     time.Now().UTC(),
		},
	}
}

// Reply builds a response to e addressed back to its sender.
// The reply is threaded under e and inherits its correlation id.
func (e *Envelope) Reply(action string, args map[string]any) *Envelope {
	r := NewEnvelope(e.From, action, args)
	r.From = e.To
	r.Meta.ParentID = e.Meta.ID
	if e.Meta.CorrelationID != "" {
		r.Meta.CorrelationID = e.Meta.CorrelationID
	}
	return r
}

// WithThoughts sets the sender rationale and returns the envelope for chaining.
func (e *Envelope) WithThoughts(thoughts string) *Envelope {
	e.Thoughts = thoughts
	return e
}

// Arg returns the named argument, or nil when absent.
func (e *Envelope) Arg(name string) any {
	if e.Args == nil {
		return nil
	}
	return e.Args[name]
}

// Clone copies the envelope. The top-level args map is copied so that the
// receiver can never mutate the sender's map.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Args != nil {
		clone.Args = make(map[string]any, len(e.Args))
		for k, v := range e.Args {
			clone.Args[k] = v
		}
	}
	return &clone
}

// Validate checks that the envelope can be routed.
func (e *Envelope) Validate() error {
	if e.Action == "" {
		return errors.New("envelope action is required")
	}
	if e.From == "" {
		return errors.New("envelope sender is required")
	}
	return nil
}

// Encode serializes the envelope for transports that carry bytes.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope is the inverse of Encode.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Action == "" {
		return nil, errors.New("decode envelope: missing action")
	}
	return &e, nil
}

// String returns a human-readable representation for debugging.
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{ID:%s, From:%s, To:%s, Action:%s}", e.Meta.ID, e.From, e.To, e.Action)
}
