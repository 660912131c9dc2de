package grant

import (
	"context"
	"fmt"
	"path"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// Decisions a policy rule can take.
const (
	Allow  = "allow"
	Deny   = "deny"
	Prompt = "prompt"
)

// Rule matches grant requests. Empty fields match anything. Channel and
// Sender are addresses, so "Host" also covers "Host.fs"; Action is a
// path.Match pattern such as "read_*".
type Rule struct {
	Channel  string `yaml:"channel"`
	Sender   string `yaml:"sender"`
	Action   string `yaml:"action"`
	Decision string `yaml:"decision"`
}

func (r Rule) matches(channel, sender, action string) bool {
	if r.Channel != "" && !agent.MatchAddress(r.Channel, channel) {
		return false
	}
	if r.Sender != "" && !agent.MatchAddress(r.Sender, sender) {
		return false
	}
	if r.Action == "" {
		return true
	}
	ok, err := path.Match(r.Action, action)
	return err == nil && ok
}

// Policy is an ordered allow-list. The first matching rule decides; requests
// no rule matches get the Default decision.
type Policy struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// LoadPolicy reads a policy file.
func LoadPolicy(file string) (*Policy, error) {
	var p Policy
	parser := security.NewSafeYAMLParser(security.DefaultYAMLLimits()).Strict()
	if err := parser.UnmarshalYAMLFile(file, &p); err != nil {
		return nil, fmt.Errorf("load grant policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("grant policy %s: %w", file, err)
	}
	return &p, nil
}

// Validate checks decisions and patterns. An empty default means deny.
func (p *Policy) Validate() error {
	if p.Default == "" {
		p.Default = Deny
	}
	if !validDecision(p.Default) {
		return fmt.Errorf("unknown default decision %q", p.Default)
	}
	for i, r := range p.Rules {
		if !validDecision(r.Decision) {
			return fmt.Errorf("rules[%d]: unknown decision %q", i, r.Decision)
		}
		if _, err := path.Match(r.Action, ""); err != nil {
			return fmt.Errorf("rules[%d]: bad action pattern %q: %w", i, r.Action, err)
		}
	}
	return nil
}

func validDecision(d string) bool {
	return d == Allow || d == Deny || d == Prompt
}

// Decide returns the decision for a request received by channel.
func (p *Policy) Decide(channel, sender, action string) string {
	for _, r := range p.Rules {
		if r.matches(channel, sender, action) {
			return r.Decision
		}
	}
	if p.Default == "" {
		return Deny
	}
	return p.Default
}

// Granter returns the granter for the channel with the given id. Requests
// decided as "prompt" are forwarded to fallback, or refused without one.
func (p *Policy) Granter(channel string, fallback agent.Granter) agent.Granter {
	return agent.GranterFunc(func(ctx context.Context, sender, action string) (bool, error) {
		switch p.Decide(channel, sender, action) {
		case Allow:
			return true, nil
		case Prompt:
			if fallback == nil {
				return false, nil
			}
			return fallback.RequestGrant(ctx, sender, action)
		default:
			return false, nil
		}
	})
}
