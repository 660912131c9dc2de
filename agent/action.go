package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Handler implements an action. A non-nil result is sent back to the
// requester as a "return" envelope; a non-nil error becomes an error reply.
type Handler func(ctx context.Context, req *Request) (any, error)

// Action is a named, externally invokable capability of a channel.
type Action struct {
	Name    string
	Help    string
	Policy  AccessPolicy
	Handler Handler
}

// ActionInfo is the public description of an action, as announced during
// discovery.
type ActionInfo struct {
	Name   string       `json:"name"`
	Help   string       `json:"help,omitempty"`
	Policy AccessPolicy `json:"policy"`
}

// ActionTable maps action names to their handler and policy. It is built once
// and never mutated afterwards.
type ActionTable struct {
	actions map[string]Action
}

// NewActionTable builds a table from a declared capability set.
// Names must be non-empty and unique. Names starting with "_" are reserved
// for internal helpers and cannot be registered.
func NewActionTable(actions ...Action) (*ActionTable, error) {
	t := &ActionTable{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		switch {
		case strings.TrimSpace(a.Name) == "":
			return nil, fmt.Errorf("%w: empty name", ErrInvalidAction)
		case strings.HasPrefix(a.Name, "_"):
			return nil, fmt.Errorf("%w: %s is an internal helper name", ErrInvalidAction, a.Name)
		case a.Handler == nil:
			return nil, fmt.Errorf("%w: %s has no handler", ErrInvalidAction, a.Name)
		}
		if _, exists := t.actions[a.Name]; exists {
			return nil, fmt.Errorf("%w: %s declared twice", ErrInvalidAction, a.Name)
		}
		t.actions[a.Name] = a
	}
	return t, nil
}

// Lookup returns the action registered under name.
func (t *ActionTable) Lookup(name string) (Action, bool) {
	a, ok := t.actions[name]
	return a, ok
}

// Len returns the number of registered actions.
func (t *ActionTable) Len() int {
	return len(t.actions)
}

// Infos lists the registered actions sorted by name.
func (t *ActionTable) Infos() []ActionInfo {
	infos := make([]ActionInfo, 0, len(t.actions))
	for _, a := range t.actions {
		infos = append(infos, ActionInfo{Name: a.Name, Help: a.Help, Policy: a.Policy})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// withDefaults returns a copy of t with the given actions added where t does
// not already declare one of the same name.
func (t *ActionTable) withDefaults(defaults ...Action) *ActionTable {
	merged := &ActionTable{actions: make(map[string]Action, len(t.actions)+len(defaults))}
	for _, a := range defaults {
		merged.actions[a.Name] = a
	}
	for name, a := range t.actions {
		merged.actions[name] = a
	}
	return merged
}
