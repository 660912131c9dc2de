package space

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
)

func testRedisConfig(mr *miniredis.Miniredis) RedisConfig {
	return RedisConfig{
		Addr:              mr.Addr(),
		Prefix:            "test:",
		DialTimeout:       time.Second,
		BlockTimeout:      50 * time.Millisecond,
		ReconnectAttempts: 3,
		ReconnectInterval: 20 * time.Millisecond,
	}
}

func setupRedisSpace(t *testing.T, cfg RedisConfig) *RedisSpace {
	t.Helper()
	s, err := NewRedisSpace(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func rawClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRedisSpace_Validation(t *testing.T) {
	_, err := NewRedisSpace(context.Background(), RedisConfig{})
	assert.EqualError(t, err, "redis address is required")

	_, err = NewRedisSpace(context.Background(), RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, agent.ErrTransportFailure)
}

func TestRedisSpace_JoinAndRoute(t *testing.T) {
	mr := miniredis.RunT(t)
	s := setupRedisSpace(t, testRedisConfig(mr))
	queues := joinQueues(t, s, "A", "B")

	env := envelope("A", "B", "ping")
	require.NoError(t, s.Route(context.Background(), env))

	got := pop(t, queues["B"])
	assert.Equal(t, env.Meta.ID, got.Meta.ID)
	assert.Equal(t, "A", got.From)
	assert.EqualValues(t, 1, got.Args["n"], "numbers arrive as float64 after the JSON hop")
	assertEmpty(t, queues["A"])

	c := rawClient(t, mr)
	assert.Eventually(t, func() bool {
		n, err := c.XLen(context.Background(), "test:queue:B").Result()
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond, "delivered entries are acknowledged and removed")
}

func TestRedisSpace_PreservesOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	s := setupRedisSpace(t, testRedisConfig(mr))
	queues := joinQueues(t, s, "A", "B")

	for i := 0; i < 20; i++ {
		env := agent.NewEnvelope("B", "count", map[string]any{"i": i})
		env.From = "A"
		require.NoError(t, s.Route(context.Background(), env))
	}
	for i := 0; i < 20; i++ {
		assert.EqualValues(t, i, pop(t, queues["B"]).Args["i"])
	}
}

func TestRedisSpace_AcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s1 := setupRedisSpace(t, testRedisConfig(mr))
	s2 := setupRedisSpace(t, testRedisConfig(mr))

	q1 := joinQueues(t, s1, "Operator")
	q2 := joinQueues(t, s2, "Echo", "Host.fs")

	require.NoError(t, s1.Route(ctx, envelope("Operator", "Echo", "ping")))
	assert.Equal(t, "ping", pop(t, q2["Echo"]).Action)

	require.NoError(t, s2.Route(ctx, envelope("Echo", "Operator", "pong")))
	assert.Equal(t, "pong", pop(t, q1["Operator"]).Action)

	require.NoError(t, s1.Route(ctx, envelope("Operator", "Host", "list_files")))
	assert.Equal(t, "list_files", pop(t, q2["Host.fs"]).Action)

	require.NoError(t, s1.Route(ctx, envelope("Operator", agent.Broadcast, "discover")))
	assert.Equal(t, "discover", pop(t, q2["Echo"]).Action)
	assert.Equal(t, "discover", pop(t, q2["Host.fs"]).Action)
	assertEmpty(t, q1["Operator"])

	ids, err := s2.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo", "Host.fs", "Operator"}, ids)
}

func TestRedisSpace_DuplicateAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	s1 := setupRedisSpace(t, testRedisConfig(mr))
	s2 := setupRedisSpace(t, testRedisConfig(mr))

	joinQueues(t, s1, "Echo")
	err := s1.Join(context.Background(), "Echo", agent.NewQueue(0))
	assert.ErrorIs(t, err, agent.ErrDuplicateChannel)
	err = s2.Join(context.Background(), "Echo", agent.NewQueue(0))
	assert.ErrorIs(t, err, agent.ErrDuplicateChannel)
}

func TestRedisSpace_LeaveAnnouncesDeparture(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s1 := setupRedisSpace(t, testRedisConfig(mr))
	s2 := setupRedisSpace(t, testRedisConfig(mr))

	joinQueues(t, s1, "Echo")
	joinQueues(t, s2, "Operator")

	assert.Eventually(t, func() bool {
		ids, _ := s2.Resolve(ctx, envelope("Operator", "Echo", "ping"))
		return len(ids) == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s1.Leave(ctx, "Echo"))
	assert.ErrorIs(t, s1.Leave(ctx, "Echo"), agent.ErrChannelNotFound)

	assert.Eventually(t, func() bool {
		_, err := s2.Resolve(ctx, envelope("Operator", "Echo", "ping"))
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	err := s2.Route(ctx, envelope("Operator", "Echo", "ping"))
	assert.ErrorIs(t, err, agent.ErrUnroutableDestination)
}

func TestRedisSpace_PresencePruning(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := testRedisConfig(mr)
	cfg.PresenceTTL = time.Minute
	s := setupRedisSpace(t, cfg)
	joinQueues(t, s, "Echo")

	c := rawClient(t, mr)
	ancient := strconv.FormatInt(time.Now().Add(-time.Hour).UnixMilli(), 10)
	require.NoError(t, c.HSet(ctx, "test:presence", "Ghost", ancient, "Echo", ancient).Err())

	ids, err := s.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo"}, ids, "local channels are never pruned")
	assert.Empty(t, mr.HGet("test:presence", "Ghost"), "stale entries are deleted")

	s.refreshPresence()
	stamp, err := c.HGet(ctx, "test:presence", "Echo").Result()
	require.NoError(t, err)
	assert.NotEqual(t, ancient, stamp)
}

func TestRedisSpace_QueueDepthLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := testRedisConfig(mr)
	cfg.MaxQueueDepth = 2
	s := setupRedisSpace(t, cfg)

	joinQueues(t, s, "Sender")
	blocked := agent.NewQueue(1)
	require.NoError(t, blocked.Deliver(envelope("X", "Slow", "filler")))
	require.NoError(t, s.Join(ctx, "Slow", blocked))

	require.NoError(t, s.Route(ctx, envelope("Sender", "Slow", "one")))
	require.NoError(t, s.Route(ctx, envelope("Sender", "Slow", "two")))
	err := s.Route(ctx, envelope("Sender", "Slow", "three"))
	assert.ErrorIs(t, err, agent.ErrMailboxFull)

	assert.Equal(t, "filler", pop(t, blocked).Action)
	assert.Equal(t, "one", pop(t, blocked).Action)
	assert.Equal(t, "two", pop(t, blocked).Action)
}

func TestRedisSpace_ReconnectsAfterBrokerRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := testRedisConfig(mr)
	cfg.ReconnectAttempts = 50
	s := setupRedisSpace(t, cfg)
	queues := joinQueues(t, s, "A", "B")

	mr.Close()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, mr.Restart())

	require.Eventually(t, func() bool {
		return s.Route(ctx, envelope("A", "B", "after-restart")) == nil
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, "after-restart", pop(t, queues["B"]).Action)
	assert.NoError(t, s.Ping(ctx))
}

func TestRedisSpace_CallerDeadlineDuringReconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testRedisConfig(mr)
	cfg.ReconnectAttempts = 5
	cfg.ReconnectInterval = 200 * time.Millisecond
	cfg.DialTimeout = 100 * time.Millisecond
	s := setupRedisSpace(t, cfg)

	mr.Close()
	short, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := s.Ping(short)
	require.Error(t, err)
	assert.NotErrorIs(t, err, agent.ErrTransportFailure, "a caller deadline is not a lost broker")

	require.NoError(t, mr.Restart())
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx), "the space reconnects once the broker is back")

	queues := joinQueues(t, s, "A", "B")
	require.NoError(t, s.Route(ctx, envelope("A", "B", "after-restart")))
	assert.Equal(t, "after-restart", pop(t, queues["B"]).Action)
}

func TestRedisSpace_FailsAfterReconnectAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := testRedisConfig(mr)
	cfg.ReconnectAttempts = 2
	cfg.ReconnectInterval = 10 * time.Millisecond
	s := setupRedisSpace(t, cfg)
	queues := joinQueues(t, s, "A", "B")

	mr.Close()

	popCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := queues["B"].Pop(popCtx)
	assert.ErrorIs(t, err, agent.ErrTransportFailure, "mailboxes fail once the broker is gone for good")

	err = s.Route(ctx, envelope("A", "B", "ping"))
	assert.ErrorIs(t, err, agent.ErrTransportFailure)
	assert.ErrorIs(t, s.Ping(ctx), agent.ErrTransportFailure)
	assert.NoError(t, s.Close(ctx))
}
