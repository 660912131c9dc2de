// Package grant provides the granters a hosting application can plug into
// channels to approve conditional actions.
package grant

import (
	"context"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// Static returns a granter that gives the same answer to every request.
func Static(allow bool) agent.Granter {
	return agent.GranterFunc(func(context.Context, string, string) (bool, error) {
		return allow, nil
	})
}

// Audited records every answer g gives for channel on audit.
func Audited(channel string, g agent.Granter, audit security.AuditLogger) agent.Granter {
	return agent.GranterFunc(func(ctx context.Context, sender, action string) (bool, error) {
		ok, err := g.RequestGrant(ctx, sender, action)
		audit.Log(security.GrantDecision(channel, sender, action, ok, err))
		return ok, err
	})
}
