package space

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/observability"
)

// RedisConfig holds the broker connection and tuning settings.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Username and Password are optional ACL credentials.
	Username string
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix scopes every key and topic, letting several spaces share one
	// broker (default: "agency:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
	// DialTimeout bounds connection attempts and pings (default: 5s).
	DialTimeout time.Duration
	// MaxQueueDepth bounds each channel's broker queue. Publishing to a full
	// queue fails with agent.ErrMailboxFull. 0 means unbounded.
	MaxQueueDepth int64
	// BlockTimeout is how long a consumer waits for new entries per read
	// (default: 1s).
	BlockTimeout time.Duration
	// ReconnectAttempts is how many times a lost connection is re-established
	// before the space gives up (default: 5).
	ReconnectAttempts int
	// ReconnectInterval paces reconnect attempts (default: 1s).
	ReconnectInterval time.Duration
	// PresenceTTL is how long a channel stays live without a refresh
	// (default: 30s).
	PresenceTTL time.Duration
	// PresenceRefresh is the presence refresh period (default: 10s).
	PresenceRefresh time.Duration
}

func (c *RedisConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "agency:"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 30 * time.Second
	}
	if c.PresenceRefresh <= 0 {
		c.PresenceRefresh = 10 * time.Second
	}
}

// publishScript appends an envelope to a channel queue unless the queue is at
// its depth limit, in which case it returns 0.
var publishScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max > 0 and redis.call('XLEN', KEYS[1]) >= max then
  return 0
end
return redis.call('XADD', KEYS[1], '*', 'envelope', ARGV[1])
`)

const envelopeField = "envelope"

// presenceEvent is published on the discovery topic when a channel joins or
// leaves.
type presenceEvent struct {
	Event string `json:"event"`
	ID    string `json:"id"`
}

type member struct {
	id     string
	mb     agent.Mailbox
	cancel context.CancelFunc
	done   chan struct{}
}

// RedisSpace routes envelopes through a Redis broker so channels in different
// processes can reach each other.
//
// Each channel owns a stream "<prefix>queue:<id>" read through a consumer
// group; entries are acknowledged only after they reached the mailbox, and
// unacknowledged entries are redelivered after a reconnect. Live channels are
// tracked in the hash "<prefix>presence", refreshed periodically, and
// joins/leaves are announced on the "<prefix>discovery" topic.
//
// The connection carries no heartbeat: failures are detected by failing
// publishes and reads. A lost connection is re-established under an exclusive
// lock so no publish interleaves with it; once ReconnectAttempts are exhausted
// every operation fails with agent.ErrTransportFailure and every joined
// mailbox is failed.
type RedisSpace struct {
	cfg     RedisConfig
	logger  *slog.Logger
	limiter *rate.Limiter
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// connMu is read-locked by every broker operation and write-locked while
	// reconnecting.
	connMu     sync.RWMutex
	client     *redis.Client
	generation uint64
	failed     error
	// dialFailures counts failed reconnect attempts since the last success,
	// across operations.
	dialFailures int
	dialErr      error

	subMu sync.Mutex
	sub   *redis.PubSub

	joinMu  sync.Mutex
	mu      sync.Mutex
	members map[string]*member
	closed  bool

	viewMu sync.RWMutex
	view   map[string]struct{}
}

// NewRedisSpace connects to the broker and starts presence tracking.
func NewRedisSpace(ctx context.Context, cfg RedisConfig, opts ...Option) (*RedisSpace, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	cfg.setDefaults()
	o := buildOptions("redis", opts)

	s := &RedisSpace{
		cfg:     cfg,
		logger:  o.logger.With("prefix", cfg.Prefix),
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		members: make(map[string]*member),
		view:    make(map[string]struct{}),
	}

	client := s.newClient()
	pctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", agent.ErrTransportFailure, err)
	}
	s.client = client
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.refreshView(ctx); err != nil {
		s.logger.Warn("initial presence load failed", "error", err)
	}

	s.wg.Add(1)
	go s.watchDiscovery()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every "+cfg.PresenceRefresh.String(), s.refreshPresence); err != nil {
		s.cancel()
		_ = client.Close()
		return nil, fmt.Errorf("schedule presence refresh: %w", err)
	}
	s.cron.Start()

	s.logger.Info("connected to broker", "addr", cfg.Addr)
	return s, nil
}

func (s *RedisSpace) newClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  s.cfg.Addr,
		Username:              s.cfg.Username,
		Password:              s.cfg.Password,
		DB:                    s.cfg.DB,
		PoolSize:              s.cfg.PoolSize,
		DialTimeout:           s.cfg.DialTimeout,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
}

// Key helpers
func (s *RedisSpace) queueKey(id string) string {
	return s.cfg.Prefix + "queue:" + id
}

func (s *RedisSpace) groupName() string {
	return s.cfg.Prefix + "group"
}

func (s *RedisSpace) presenceKey() string {
	return s.cfg.Prefix + "presence"
}

func (s *RedisSpace) discoveryTopic() string {
	return s.cfg.Prefix + "discovery"
}

// Join registers a mailbox under id, announces it and starts consuming its
// queue. Entries left in the queue by a previous incarnation are delivered.
func (s *RedisSpace) Join(ctx context.Context, id string, mb agent.Mailbox) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSpaceClosed
	}
	if _, exists := s.members[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", agent.ErrDuplicateChannel, id)
	}
	s.mu.Unlock()

	if live, err := s.isLive(ctx, id); err != nil {
		return err
	} else if live {
		return fmt.Errorf("%w: %s is live in another process", agent.ErrDuplicateChannel, id)
	}

	err := s.withClient(ctx, func(c *redis.Client) error {
		return s.register(ctx, c, id)
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", id, err)
	}

	cctx, cancel := context.WithCancel(s.ctx)
	m := &member{id: id, mb: mb, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.members[id] = m
	s.mu.Unlock()
	s.addToView(id)

	go s.consume(cctx, m)

	s.logger.Debug("channel joined", "id", id)
	return nil
}

// Leave stops consuming id's queue and announces its departure. The queue
// itself is kept so the channel can pick up where it left off.
func (s *RedisSpace) Leave(ctx context.Context, id string) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	m, exists := s.members[id]
	if exists {
		delete(s.members, id)
	}
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", agent.ErrChannelNotFound, id)
	}

	m.cancel()
	<-m.done
	s.removeFromView(id)

	err := s.withClient(ctx, func(c *redis.Client) error {
		return s.unregister(ctx, c, id)
	})
	if err != nil {
		return fmt.Errorf("leave %s: %w", id, err)
	}
	s.logger.Debug("channel left", "id", id)
	return nil
}

// Resolve returns the ids env would be delivered to. The presence view is
// reloaded once before an address is declared unroutable.
func (s *RedisSpace) Resolve(ctx context.Context, env *agent.Envelope) ([]string, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	ids, err := resolve(env, s.liveIDs())
	if err == nil || !errors.Is(err, agent.ErrUnroutableDestination) {
		return ids, err
	}
	if rerr := s.refreshView(ctx); rerr != nil {
		return nil, rerr
	}
	return resolve(env, s.liveIDs())
}

// Route publishes env to the queue of every matching channel.
func (s *RedisSpace) Route(ctx context.Context, env *agent.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	ids, err := s.Resolve(ctx, env)
	if err != nil {
		if errors.Is(err, agent.ErrUnroutableDestination) {
			observability.RecordRoute("redis", "unroutable")
		} else {
			observability.RecordRoute("redis", "failed")
		}
		return err
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := s.publish(ctx, id, data); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		observability.RecordRoute("redis", "failed")
		return errors.Join(errs...)
	}
	observability.RecordRoute("redis", "delivered")
	return nil
}

// Discover reloads presence and returns the ids of all live channels.
func (s *RedisSpace) Discover(ctx context.Context) ([]string, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if err := s.refreshView(ctx); err != nil {
		return nil, err
	}
	return s.liveIDs(), nil
}

// Ping checks the broker connection.
func (s *RedisSpace) Ping(ctx context.Context) error {
	return s.withClient(ctx, func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

// Close leaves every joined channel, stops background work and releases the
// connection.
func (s *RedisSpace) Close(ctx context.Context) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	members := make([]*member, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, m)
	}
	s.members = make(map[string]*member)
	s.mu.Unlock()

	for _, m := range members {
		m.cancel()
		<-m.done
	}
	if s.usable() == nil {
		for _, m := range members {
			err := s.withClient(ctx, func(c *redis.Client) error {
				return s.unregister(ctx, c, m.id)
			})
			if err != nil {
				s.logger.Warn("unregister on close failed", "id", m.id, "error", err)
			}
		}
	}

	<-s.cron.Stop().Done()
	s.cancel()
	s.closeSub()
	s.wg.Wait()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	observability.SetLiveChannels("redis", 0)
	if s.failed != nil {
		// The connection was already released when the space failed.
		return nil
	}
	s.failed = ErrSpaceClosed
	return s.client.Close()
}

func (s *RedisSpace) usable() error {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.failed
}

// withClient runs fn against the current connection. A connection-level
// failure triggers one reconnect and one retry.
func (s *RedisSpace) withClient(ctx context.Context, fn func(*redis.Client) error) error {
	for attempt := 0; ; attempt++ {
		s.connMu.RLock()
		if s.failed != nil {
			err := s.failed
			s.connMu.RUnlock()
			return err
		}
		c := s.client
		err := fn(c)
		s.connMu.RUnlock()

		if err == nil || !isConnError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			return fmt.Errorf("%w: %v", agent.ErrTransportFailure, err)
		}
		s.logger.Warn("broker connection lost", "error", err)
		if rerr := s.reconnect(ctx, c); rerr != nil {
			return rerr
		}
	}
}

// isConnError reports whether err came from the connection rather than from a
// Redis reply.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rerr redis.Error
	return !errors.As(err, &rerr)
}

// reconnect replaces stale with a fresh connection. It holds the connection
// lock for its whole duration, so publishes wait until it has finished. If ctx
// ends first the closed connection stays current and the next operation
// reconnects again; only attempts that ran to completion count toward
// ReconnectAttempts.
func (s *RedisSpace) reconnect(ctx context.Context, stale *redis.Client) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.failed != nil {
		return s.failed
	}
	if s.client != stale {
		return nil
	}
	_ = stale.Close()
	s.closeSub()

	for s.dialFailures < s.cfg.ReconnectAttempts {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("reconnect interrupted: %w", err)
		}
		c := s.newClient()
		pctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		err := c.Ping(pctx).Err()
		if err == nil {
			err = s.reregister(pctx, c)
		}
		cancel()
		if err == nil {
			s.client = c
			s.generation++
			s.dialFailures, s.dialErr = 0, nil
			observability.RecordReconnect("success")
			s.logger.Info("reconnected to broker")
			return nil
		}
		_ = c.Close()
		if ctx.Err() != nil {
			// The caller gave up, not the broker. The next operation retries.
			return fmt.Errorf("reconnect interrupted: %w", ctx.Err())
		}
		s.dialFailures++
		s.dialErr = err
		observability.RecordReconnect("failure")
		s.logger.Warn("reconnect attempt failed", "attempt", s.dialFailures, "error", err)
	}

	s.failed = fmt.Errorf("%w: broker unreachable after %d attempts: %v",
		agent.ErrTransportFailure, s.cfg.ReconnectAttempts, s.dialErr)
	s.logger.Error("giving up on broker", "error", s.failed)

	s.mu.Lock()
	for _, m := range s.members {
		m.mb.Fail(s.failed)
	}
	s.mu.Unlock()
	return s.failed
}

// reregister restores consumer groups and presence for every joined channel
// on a new connection.
func (s *RedisSpace) reregister(ctx context.Context, c *redis.Client) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.register(ctx, c, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisSpace) register(ctx context.Context, c *redis.Client, id string) error {
	if err := c.XGroupCreateMkStream(ctx, s.queueKey(id), s.groupName(), "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	if err := c.HSet(ctx, s.presenceKey(), id, nowMillis()).Err(); err != nil {
		return err
	}
	return s.announce(ctx, c, "join", id)
}

func (s *RedisSpace) unregister(ctx context.Context, c *redis.Client, id string) error {
	if err := c.HDel(ctx, s.presenceKey(), id).Err(); err != nil {
		return err
	}
	return s.announce(ctx, c, "leave", id)
}

func (s *RedisSpace) announce(ctx context.Context, c *redis.Client, event, id string) error {
	data, err := json.Marshal(presenceEvent{Event: event, ID: id})
	if err != nil {
		return err
	}
	return c.Publish(ctx, s.discoveryTopic(), data).Err()
}

func (s *RedisSpace) publish(ctx context.Context, id string, data []byte) error {
	return s.withClient(ctx, func(c *redis.Client) error {
		res, err := publishScript.Run(ctx, c, []string{s.queueKey(id)}, data, s.cfg.MaxQueueDepth).Result()
		if err != nil {
			return err
		}
		if n, ok := res.(int64); ok && n == 0 {
			return agent.ErrMailboxFull
		}
		return nil
	})
}

// consume moves entries from m's queue into its mailbox until ctx is done.
// Pending entries, the ones read but never acknowledged, are drained first
// and again after every reconnect.
func (s *RedisSpace) consume(ctx context.Context, m *member) {
	defer close(m.done)

	pending := true
	var seen uint64
	for ctx.Err() == nil {
		start := ">"
		if pending {
			start = "0"
		}

		var streams []redis.XStream
		err := s.withClient(ctx, func(c *redis.Client) error {
			if s.generation != seen {
				seen = s.generation
				pending, start = true, "0"
			}
			var err error
			streams, err = c.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    s.groupName(),
				Consumer: m.id,
				Streams:  []string{s.queueKey(m.id), start},
				Count:    32,
				Block:    s.cfg.BlockTimeout,
			}).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil && strings.Contains(err.Error(), "NOGROUP") {
				return c.XGroupCreateMkStream(ctx, s.queueKey(m.id), s.groupName(), "0").Err()
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, agent.ErrTransportFailure) {
				return
			}
			s.logger.Warn("queue read failed", "id", m.id, "error", err)
			if !sleepCtx(ctx, s.cfg.ReconnectInterval) {
				return
			}
			continue
		}

		delivered := 0
		for _, st := range streams {
			for _, msg := range st.Messages {
				delivered++
				if !s.deliver(ctx, m, msg) {
					return
				}
			}
		}
		if pending && delivered == 0 {
			pending = false
		}
	}
}

// deliver hands msg to the mailbox, then acknowledges and deletes the entry so
// the stream length counts only undelivered envelopes. A full mailbox is
// retried; a closed one leaves the entry pending. It reports whether
// consumption should continue.
func (s *RedisSpace) deliver(ctx context.Context, m *member, msg redis.XMessage) bool {
	raw, _ := msg.Values[envelopeField].(string)
	env, err := agent.DecodeEnvelope([]byte(raw))
	if err != nil {
		s.logger.Warn("dropping malformed entry", "id", m.id, "entry", msg.ID, "error", err)
		return s.ack(ctx, m, msg.ID)
	}

	for {
		err := m.mb.Deliver(env)
		if err == nil {
			break
		}
		if !errors.Is(err, agent.ErrMailboxFull) {
			s.logger.Debug("mailbox refused entry", "id", m.id, "error", err)
			return false
		}
		if !sleepCtx(ctx, 50*time.Millisecond) {
			return false
		}
	}
	return s.ack(ctx, m, msg.ID)
}

func (s *RedisSpace) ack(ctx context.Context, m *member, entryID string) bool {
	err := s.withClient(ctx, func(c *redis.Client) error {
		_, err := c.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.XAck(ctx, s.queueKey(m.id), s.groupName(), entryID)
			p.XDel(ctx, s.queueKey(m.id), entryID)
			return nil
		})
		return err
	})
	if err != nil {
		s.logger.Warn("ack failed", "id", m.id, "entry", entryID, "error", err)
		return ctx.Err() == nil && !errors.Is(err, agent.ErrTransportFailure)
	}
	return true
}

// watchDiscovery keeps the presence view current from join/leave
// announcements. The subscription is re-established after reconnects.
func (s *RedisSpace) watchDiscovery() {
	defer s.wg.Done()

	for s.ctx.Err() == nil {
		s.connMu.RLock()
		c, failed := s.client, s.failed
		s.connMu.RUnlock()
		if failed != nil {
			return
		}

		sub := c.Subscribe(s.ctx, s.discoveryTopic())
		s.subMu.Lock()
		s.sub = sub
		s.subMu.Unlock()

		s.connMu.RLock()
		stale := s.client != c
		s.connMu.RUnlock()
		if !stale {
			for msg := range sub.Channel() {
				s.applyEvent(msg.Payload)
			}
		}
		_ = sub.Close()

		if !sleepCtx(s.ctx, s.cfg.ReconnectInterval) {
			return
		}
		if err := s.refreshView(s.ctx); err != nil {
			s.logger.Debug("presence reload failed", "error", err)
		}
	}
}

func (s *RedisSpace) closeSub() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
}

func (s *RedisSpace) applyEvent(payload string) {
	var ev presenceEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.ID == "" {
		s.logger.Debug("ignoring malformed presence event", "payload", payload)
		return
	}
	switch ev.Event {
	case "join":
		s.addToView(ev.ID)
	case "leave":
		s.removeFromView(ev.ID)
	}
}

// refreshPresence re-stamps every local channel and prunes stale entries. It
// runs on the cron schedule.
func (s *RedisSpace) refreshPresence() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	defer cancel()

	s.mu.Lock()
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		err := s.withClient(ctx, func(c *redis.Client) error {
			values := make([]any, 0, 2*len(ids))
			now := nowMillis()
			for _, id := range ids {
				values = append(values, id, now)
			}
			return c.HSet(ctx, s.presenceKey(), values...).Err()
		})
		if err != nil {
			s.logger.Warn("presence refresh failed", "error", err)
			return
		}
	}
	if err := s.refreshView(ctx); err != nil {
		s.logger.Warn("presence reload failed", "error", err)
	}
}

// refreshView reloads the live set from the presence hash, deleting entries
// older than PresenceTTL.
func (s *RedisSpace) refreshView(ctx context.Context) error {
	var entries map[string]string
	err := s.withClient(ctx, func(c *redis.Client) error {
		var err error
		entries, err = c.HGetAll(ctx, s.presenceKey()).Result()
		return err
	})
	if err != nil {
		return err
	}

	view := make(map[string]struct{}, len(entries))
	var stale []string
	for id, stamp := range entries {
		if s.expired(stamp) && !s.isMember(id) {
			stale = append(stale, id)
			continue
		}
		view[id] = struct{}{}
	}
	if len(stale) > 0 {
		err := s.withClient(ctx, func(c *redis.Client) error {
			return c.HDel(ctx, s.presenceKey(), stale...).Err()
		})
		if err != nil {
			s.logger.Debug("pruning stale presence failed", "error", err)
		} else {
			s.logger.Debug("pruned stale channels", "ids", stale)
		}
	}

	s.viewMu.Lock()
	s.view = view
	s.viewMu.Unlock()
	observability.SetLiveChannels("redis", len(view))
	return nil
}

// isLive reports whether id has a fresh presence entry.
func (s *RedisSpace) isLive(ctx context.Context, id string) (bool, error) {
	var stamp string
	err := s.withClient(ctx, func(c *redis.Client) error {
		var err error
		stamp, err = c.HGet(ctx, s.presenceKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			stamp = ""
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return stamp != "" && !s.expired(stamp), nil
}

func (s *RedisSpace) expired(stamp string) bool {
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return true
	}
	return time.Since(time.UnixMilli(ms)) > s.cfg.PresenceTTL
}

func (s *RedisSpace) isMember(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	return ok
}

func (s *RedisSpace) addToView(id string) {
	s.viewMu.Lock()
	s.view[id] = struct{}{}
	n := len(s.view)
	s.viewMu.Unlock()
	observability.SetLiveChannels("redis", n)
}

func (s *RedisSpace) removeFromView(id string) {
	s.viewMu.Lock()
	delete(s.view, id)
	n := len(s.view)
	s.viewMu.Unlock()
	observability.SetLiveChannels("redis", n)
}

func (s *RedisSpace) liveIDs() []string {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	ids := make([]string, 0, len(s.view))
	for id := range s.view {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
