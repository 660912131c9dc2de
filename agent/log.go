package agent

import "sync"

// MessageLog is the ordered, append-only record of envelopes a channel has
// processed or sent.
type MessageLog struct {
	mu      sync.RWMutex
	entries []*Envelope
}

// Append records env.
func (l *MessageLog) Append(env *Envelope) {
	l.mu.Lock()
	l.entries = append(l.entries, env)
	l.mu.Unlock()
}

// Entries returns a snapshot of the log in insertion order.
func (l *MessageLog) Entries() []*Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Envelope, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
