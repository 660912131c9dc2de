package agent

import (
	"context"
	"sync"

	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"golang.org/x/sync/singleflight"
)

type grantKey struct {
	sender string
	action string
}

// grantGate evaluates conditional actions for one channel. Approvals are
// cached for the lifetime of the gate; refusals are not. Concurrent requests
// for the same (sender, action) pair share a single in-flight grant call.
type grantGate struct {
	granter Granter
	flight  singleflight.Group

	mu      sync.RWMutex
	granted map[grantKey]struct{}
}

func newGrantGate(granter Granter) *grantGate {
	if granter == nil {
		granter = DenyAll
	}
	return &grantGate{
		granter: granter,
		granted: make(map[grantKey]struct{}),
	}
}

func (g *grantGate) cached(k grantKey) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.granted[k]
	return ok
}

// allow reports whether sender may invoke action. The granter error, if any,
// is returned alongside a false decision.
func (g *grantGate) allow(ctx context.Context, sender, action string) (bool, error) {
	k := grantKey{sender: sender, action: action}
	if g.cached(k) {
		return true, nil
	}

	v, err, _ := g.flight.Do(sender+"\x00"+action, func() (any, error) {
		if g.cached(k) {
			return true, nil
		}
		ok, err := g.granter.RequestGrant(ctx, sender, action)
		if err != nil {
			metrics.RecordGrantRequest(action, "error")
			return false, err
		}
		if !ok {
			metrics.RecordGrantRequest(action, "refused")
			return false, nil
		}
		g.mu.Lock()
		g.granted[k] = struct{}{}
		g.mu.Unlock()
		metrics.RecordGrantRequest(action, "approved")
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Granted reports whether a grant is cached for the pair.
func (g *grantGate) Granted(sender, action string) bool {
	return g.cached(grantKey{sender: sender, action: action})
}
