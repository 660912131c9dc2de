package agency

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/agents"
	"github.com/aixgo-dev/agency/pkg/config"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"github.com/aixgo-dev/agency/pkg/space"
)

// collector records every envelope its channel receives.
type collector struct {
	mu   sync.Mutex
	envs []*agent.Envelope
}

func (c *collector) Actions() []agent.Action { return nil }

func (c *collector) HandleUnknown(context.Context, *agent.Request) (any, error) { return nil, nil }

func (c *collector) Observe(env *agent.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) has(action string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range c.envs {
		if env.Action == action {
			return true
		}
	}
	return false
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newChannel(t *testing.T, sp agent.Space, id string, b agent.Behavior) *agent.Channel {
	t.Helper()
	ch, err := agent.New(id, sp, b)
	require.NoError(t, err)
	return ch
}

func TestAgency_RunsChannels(t *testing.T) {
	sp := space.NewLocalSpace()
	a := New(context.Background(), sp, nil)

	inbox := &collector{}
	tester := newChannel(t, sp, "Tester", inbox)
	require.NoError(t, a.Add(newChannel(t, sp, "Echo", agents.Echo{})))
	require.NoError(t, a.Add(tester))
	assert.Equal(t, []string{"Echo", "Tester"}, a.Channels())

	closed := false
	a.Own(closerFunc(func() error { closed = true; return nil }))

	require.NoError(t, tester.Send(context.Background(), agent.NewEnvelope("Echo", "ping", nil)))
	require.Eventually(t, func() bool { return inbox.has("pong") }, 2*time.Second, 5*time.Millisecond)

	a.Stop()
	require.NoError(t, a.Wait(context.Background()))
	assert.True(t, closed)

	ids, err := sp.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Error(t, a.Add(newChannel(t, sp, "Late", agents.Echo{})))
}

func TestAgency_DriverEndsAgency(t *testing.T) {
	sp := space.NewLocalSpace()
	a := New(context.Background(), sp, nil)
	require.NoError(t, a.Add(newChannel(t, sp, "Echo", agents.Echo{})))

	a.Go(func(context.Context) error { return nil })

	done := make(chan error, 1)
	go func() { done <- a.Wait(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agency did not stop after its driver returned")
	}
}

func TestAgency_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sp := space.NewLocalSpace()
	a := New(ctx, sp, nil)
	require.NoError(t, a.Add(newChannel(t, sp, "Echo", agents.Echo{})))

	cancel()
	assert.NoError(t, a.Wait(context.Background()))
}

func TestAgency_JoinFailure(t *testing.T) {
	sp := space.NewLocalSpace()
	a := New(context.Background(), sp, nil)
	require.NoError(t, a.Add(newChannel(t, sp, "Echo", agents.Echo{})))

	err := a.Add(newChannel(t, sp, "Echo", agents.Echo{}))
	assert.ErrorIs(t, err, agent.ErrDuplicateChannel)

	a.Stop()
	assert.NoError(t, a.Wait(context.Background()))
}

func TestAgency_Health(t *testing.T) {
	sp := space.NewLocalSpace()
	a := New(context.Background(), sp, nil)
	ch, err := agent.New("Echo", sp, agents.Echo{}, agent.WithMailboxCapacity(4))
	require.NoError(t, err)
	require.NoError(t, a.Add(ch))
	defer func() {
		a.Stop()
		_ = a.Wait(context.Background())
	}()

	resp := metrics.CheckHealth(context.Background(), healthSource{Agency: a, kind: config.SpaceLocal})
	assert.Equal(t, metrics.HealthStatusHealthy, resp.Status)
	assert.Equal(t, "local", resp.Space)
	assert.Equal(t, []string{"Echo"}, resp.Live)
	assert.Equal(t, []metrics.ChannelHealth{{ID: "Echo", MailboxCapacity: 4}}, resp.Channels)
}

func TestAgency_HealthReportsLostBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	sp, err := NewSpace(context.Background(), config.SpaceConfig{
		Kind: config.SpaceRedis,
		Redis: config.RedisConfig{
			Addr:              mr.Addr(),
			Prefix:            "health:",
			BlockTimeout:      50 * time.Millisecond,
			ReconnectAttempts: 1,
			ReconnectInterval: 10 * time.Millisecond,
		},
	}, nil)
	require.NoError(t, err)
	a := New(context.Background(), sp, nil)
	require.NoError(t, a.Add(newChannel(t, sp, "Echo", agents.Echo{})))
	src := healthSource{Agency: a, kind: config.SpaceRedis}
	assert.Equal(t, metrics.HealthStatusHealthy, metrics.CheckHealth(context.Background(), src).Status)

	mr.Close()
	require.Eventually(t, func() bool {
		resp := metrics.CheckHealth(context.Background(), src)
		return resp.Status == metrics.HealthStatusUnhealthy && resp.Transport != "ok"
	}, 5*time.Second, 20*time.Millisecond)

	err = a.Wait(context.Background())
	assert.ErrorIs(t, err, agent.ErrTransportFailure)
}

func TestNewSpace(t *testing.T) {
	sp, err := NewSpace(context.Background(), config.SpaceConfig{Kind: config.SpaceLocal}, nil)
	require.NoError(t, err)
	assert.IsType(t, &space.LocalSpace{}, sp)

	_, err = NewSpace(context.Background(), config.SpaceConfig{Kind: "carrier-pigeon"}, nil)
	assert.ErrorContains(t, err, "unknown space kind")

	_, err = NewSpace(context.Background(), config.SpaceConfig{
		Kind:  config.SpaceRedis,
		Redis: config.RedisConfig{Addr: "127.0.0.1:1"},
	}, nil)
	assert.ErrorIs(t, err, agent.ErrTransportFailure)
}

func TestNewGranterFactory(t *testing.T) {
	ctx := context.Background()
	deny, err := newGranterFactory(config.GrantsConfig{Mode: config.GrantDeny}, nil)
	require.NoError(t, err)
	ok, err := deny("Host").RequestGrant(ctx, "Operator", "read_file")
	require.NoError(t, err)
	assert.False(t, ok)

	allow, err := newGranterFactory(config.GrantsConfig{Mode: config.GrantAllow}, nil)
	require.NoError(t, err)
	ok, err = allow("Host").RequestGrant(ctx, "Operator", "read_file")
	require.NoError(t, err)
	assert.True(t, ok)

	policyFile := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte(`
default: deny
rules:
  - channel: Host
    sender: Operator
    action: read_*
    decision: allow
`), 0o600))
	policy, err := newGranterFactory(config.GrantsConfig{Mode: config.GrantPolicy, PolicyFile: policyFile}, nil)
	require.NoError(t, err)
	ok, err = policy("Host").RequestGrant(ctx, "Operator", "read_file")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = policy("Host").RequestGrant(ctx, "Operator", "delete_file")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = newGranterFactory(config.GrantsConfig{Mode: config.GrantPolicy, PolicyFile: filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	assert.Error(t, err)

	_, err = newGranterFactory(config.GrantsConfig{Mode: "maybe"}, nil)
	assert.Error(t, err)
}

func TestRunWithConfig_Invalid(t *testing.T) {
	err := RunWithConfig(context.Background(), &config.Config{})
	assert.ErrorContains(t, err, "invalid config")

	err = Run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunWithConfig_ChattyNeedsEndpoint(t *testing.T) {
	cfg := &config.Config{
		Space:    config.SpaceConfig{Kind: config.SpaceLocal},
		Grants:   config.GrantsConfig{Mode: config.GrantDeny},
		Channels: []config.ChannelConfig{{ID: "Chatty", Kind: config.KindChatty}},
		OpenAI:   config.OpenAIConfig{},
	}
	assert.ErrorContains(t, RunWithConfig(context.Background(), cfg), "api key or base url")
}

func TestRunWithConfig_ShutdownOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	root := t.TempDir()
	redisCfg := config.RedisConfig{
		Addr:              mr.Addr(),
		Prefix:            "e2e:",
		BlockTimeout:      50 * time.Millisecond,
		ReconnectAttempts: 3,
		ReconnectInterval: 20 * time.Millisecond,
	}
	auditFile := filepath.Join(t.TempDir(), "audit.log")
	cfg := &config.Config{
		Space:  config.SpaceConfig{Kind: config.SpaceRedis, Redis: redisCfg},
		Grants: config.GrantsConfig{Mode: config.GrantAllow, AuditFile: auditFile},
		Channels: []config.ChannelConfig{
			{ID: "Echo", Kind: config.KindEcho},
			{ID: "Host", Kind: config.KindHost, Settings: map[string]any{"root": root}},
		},
	}

	done := make(chan error, 1)
	go func() { done <- RunWithConfig(context.Background(), cfg) }()

	client, err := NewSpace(context.Background(), cfg.Space, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	require.Eventually(t, func() bool {
		ids, err := client.Discover(context.Background())
		return err == nil && len(ids) == 2
	}, 5*time.Second, 20*time.Millisecond)

	inbox := &collector{}
	admin := newChannel(t, client, "Admin", inbox)
	require.NoError(t, admin.Join(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = admin.Run(ctx) }()
	t.Cleanup(func() { _ = admin.Close(context.Background()) })

	require.NoError(t, admin.Send(context.Background(),
		agent.NewEnvelope("Host", "write_file", map[string]any{"path": "hello.txt", "content": "hi"})))
	require.Eventually(t, func() bool { return inbox.has(agent.ActionReturn) }, 5*time.Second, 10*time.Millisecond)
	assert.FileExists(t, filepath.Join(root, "hello.txt"))

	require.NoError(t, admin.Send(context.Background(), agent.NewEnvelope("Host", "shutdown_host", nil)))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agency did not shut down")
	}

	require.Eventually(t, func() bool {
		ids, err := client.Discover(context.Background())
		return err == nil && len(ids) == 1 && ids[0] == "Admin"
	}, 5*time.Second, 20*time.Millisecond)

	audit, err := os.ReadFile(auditFile)
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"action":"write_file"`)
	assert.Contains(t, string(audit), `"action":"shutdown_host"`)
}
