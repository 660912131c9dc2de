package agent

import (
	"context"
	"fmt"
	"strings"
)

// AccessPolicy is the authorization rule bound to an action.
type AccessPolicy int

const (
	// Permitted actions are always invoked.
	Permitted AccessPolicy = iota
	// Denied actions are never invoked.
	Denied
	// Conditional actions need a grant from the hosting application before
	// the first invocation from a given sender.
	Conditional
)

func (p AccessPolicy) String() string {
	switch p {
	case Permitted:
		return "permitted"
	case Denied:
		return "denied"
	case Conditional:
		return "conditional"
	default:
		return fmt.Sprintf("AccessPolicy(%d)", int(p))
	}
}

// ParseAccessPolicy parses the String form of a policy.
func ParseAccessPolicy(s string) (AccessPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permitted", "allow":
		return Permitted, nil
	case "denied", "deny":
		return Denied, nil
	case "conditional", "requested":
		return Conditional, nil
	default:
		return Permitted, fmt.Errorf("unknown access policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p AccessPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *AccessPolicy) UnmarshalText(text []byte) error {
	v, err := ParseAccessPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Granter decides whether sender may invoke a conditional action.
// It is supplied by the hosting application (terminal prompt, policy file,
// automated allow-list) and is called synchronously by the dispatcher.
type Granter interface {
	RequestGrant(ctx context.Context, sender, action string) (bool, error)
}

// GranterFunc adapts a function to the Granter interface.
type GranterFunc func(ctx context.Context, sender, action string) (bool, error)

// RequestGrant calls f.
func (f GranterFunc) RequestGrant(ctx context.Context, sender, action string) (bool, error) {
	return f(ctx, sender, action)
}

// DenyAll refuses every grant request. It is the default granter.
var DenyAll Granter = GranterFunc(func(context.Context, string, string) (bool, error) {
	return false, nil
})
