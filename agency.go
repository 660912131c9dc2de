// Package agency hosts a set of channels on a space and runs them as one
// application.
package agency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/agents"
	"github.com/aixgo-dev/agency/internal/observability"
	"github.com/aixgo-dev/agency/pkg/config"
	"github.com/aixgo-dev/agency/pkg/grant"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"github.com/aixgo-dev/agency/pkg/security"
	"github.com/aixgo-dev/agency/pkg/space"
)

// Agency runs channels on a shared space until it is stopped, a driver
// finishes, or a channel loses its transport.
type Agency struct {
	space  agent.Space
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	channels []*agent.Channel
	closers  []io.Closer
}

// New creates an agency on sp. It stops when ctx is done.
func New(ctx context.Context, sp agent.Space, logger *slog.Logger) *Agency {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	return &Agency{
		space:  sp,
		logger: logger,
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}
}

// Space returns the space the agency's channels are joined to.
func (a *Agency) Space() agent.Space {
	return a.space
}

// Add joins ch to the space and starts its dispatch loop.
func (a *Agency) Add(ch *agent.Channel) error {
	if err := a.ctx.Err(); err != nil {
		return err
	}
	if err := ch.Join(a.ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.channels = append(a.channels, ch)
	a.mu.Unlock()

	a.group.Go(func() error {
		return ch.Run(a.ctx)
	})
	a.logger.Info("channel started", "channel", ch.ID())
	return nil
}

// Go runs fn alongside the channels. The agency stops when fn returns.
func (a *Agency) Go(fn func(ctx context.Context) error) {
	a.group.Go(func() error {
		defer a.cancel()
		return fn(a.ctx)
	})
}

// Own closes c once the agency's channels have been closed.
func (a *Agency) Own(c io.Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c)
}

// Channels lists the ids of the channels added so far.
func (a *Agency) Channels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.channels))
	for _, ch := range a.channels {
		ids = append(ids, ch.ID())
	}
	return ids
}

// Stop asks every channel and driver to finish. It does not wait.
func (a *Agency) Stop() {
	a.cancel()
}

// Wait blocks until the agency stops, then closes its channels and the
// space. ctx bounds the cleanup only.
func (a *Agency) Wait(ctx context.Context) error {
	runErr := a.group.Wait()
	a.cancel()

	a.mu.Lock()
	channels, closers := a.channels, a.closers
	a.channels, a.closers = nil, nil
	a.mu.Unlock()

	errs := []error{runErr}
	for _, ch := range channels {
		if err := ch.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.space.Close(ctx); err != nil && !errors.Is(err, space.ErrSpaceClosed) {
		errs = append(errs, fmt.Errorf("close space: %w", err))
	}
	return errors.Join(errs...)
}

// ChannelHealth reports the mailbox of every hosted channel.
func (a *Agency) ChannelHealth() []metrics.ChannelHealth {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]metrics.ChannelHealth, 0, len(a.channels))
	for _, ch := range a.channels {
		depth, capacity := ch.Mailbox()
		out = append(out, metrics.ChannelHealth{ID: ch.ID(), MailboxDepth: depth, MailboxCapacity: capacity})
	}
	return out
}

// LiveChannels lists every channel on the agency's space. A space whose
// transport failed returns its error.
func (a *Agency) LiveChannels(ctx context.Context) ([]string, error) {
	return a.space.Discover(ctx)
}

// healthSource names the space kind for the health endpoints.
type healthSource struct {
	*Agency
	kind string
}

func (h healthSource) SpaceKind() string { return h.kind }

// Run loads the configuration at path and hosts its channels until ctx is
// done.
func Run(ctx context.Context, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	return RunWithConfig(ctx, cfg)
}

// RunWithConfig hosts the channels described by cfg until ctx is done, an
// operator quits, or a host channel is asked to shut down.
func RunWithConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := slog.Default()

	if err := observability.InitFromEnv(); err != nil {
		logger.Warn("failed to initialize tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down tracing", "error", err)
		}
	}()

	sp, err := NewSpace(ctx, cfg.Space, logger)
	if err != nil {
		return err
	}
	a := New(ctx, sp, logger)

	var console *grant.Console
	terminal := func() *grant.Console {
		if console == nil {
			console = grant.NewConsole()
		}
		return console
	}
	defer func() {
		if console != nil {
			_ = console.Close()
		}
	}()

	granterFor, err := newGranterFactory(cfg.Grants, terminal)
	if err != nil {
		a.Stop()
		return errors.Join(err, a.Wait(context.Background()))
	}
	if cfg.Grants.AuditFile != "" {
		audit, err := security.OpenAuditFile(cfg.Grants.AuditFile)
		if err != nil {
			a.Stop()
			return errors.Join(err, a.Wait(context.Background()))
		}
		a.Own(audit)
		base := granterFor
		granterFor = func(id string) agent.Granter {
			return grant.Audited(id, base(id), audit)
		}
	}

	deps := agents.Deps{
		Logger:      logger,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Shutdown:    a.Stop,
	}
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.BaseURL != "" {
		deps.OpenAI = agents.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	}
	for _, cc := range cfg.Channels {
		if cc.Kind == config.KindOperator {
			deps.Input = terminal()
		}
	}

	if err := addChannels(a, cfg.Channels, deps, granterFor, logger); err != nil {
		a.Stop()
		return errors.Join(err, a.Wait(context.Background()))
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		metrics.InitMetrics()
		srv := metrics.NewServer(addr, healthSource{Agency: a, kind: cfg.Space.Kind})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics server started", "addr", addr)
	}

	logger.Info("agency running", "space", cfg.Space.Kind, "channels", a.Channels())
	<-a.ctx.Done()
	logger.Info("shutting down")

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Wait(cleanupCtx)
}

func addChannels(a *Agency, channels []config.ChannelConfig, deps agents.Deps, granterFor func(id string) agent.Granter, logger *slog.Logger) error {
	for _, cc := range channels {
		b, err := agents.Build(cc, deps)
		if err != nil {
			return fmt.Errorf("channel %s: %w", cc.ID, err)
		}
		if c, ok := b.(io.Closer); ok {
			a.Own(c)
		}

		ch, err := agent.New(cc.ID, a.space, b,
			agent.WithGranter(granterFor(cc.ID)),
			agent.WithLogger(logger),
			agent.WithMailboxCapacity(cc.MailboxCapacity),
		)
		if err != nil {
			return err
		}
		if err := a.Add(ch); err != nil {
			return err
		}
		if d, ok := b.(agents.Driver); ok {
			a.Go(func(ctx context.Context) error {
				return d.Drive(ctx, ch)
			})
		}
	}
	return nil
}

// NewSpace builds the space selected by cfg.
func NewSpace(ctx context.Context, cfg config.SpaceConfig, logger *slog.Logger) (agent.Space, error) {
	switch cfg.Kind {
	case "", config.SpaceLocal:
		return space.NewLocalSpace(space.WithLogger(logger)), nil
	case config.SpaceRedis:
		r := cfg.Redis
		rs, err := space.NewRedisSpace(ctx, space.RedisConfig{
			Addr:              r.Addr,
			Username:          r.Username,
			Password:          r.Password,
			DB:                r.DB,
			Prefix:            r.Prefix,
			MaxQueueDepth:     r.MaxQueueDepth,
			BlockTimeout:      r.BlockTimeout,
			ReconnectAttempts: r.ReconnectAttempts,
			ReconnectInterval: r.ReconnectInterval,
			PresenceTTL:       r.PresenceTTL,
			PresenceRefresh:   r.PresenceRefresh,
		}, space.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown space kind %q", cfg.Kind)
	}
}

// newGranterFactory returns the granter each channel is created with.
func newGranterFactory(cfg config.GrantsConfig, terminal func() *grant.Console) (func(id string) agent.Granter, error) {
	switch cfg.Mode {
	case "", config.GrantDeny:
		return func(string) agent.Granter { return grant.Static(false) }, nil
	case config.GrantAllow:
		return func(string) agent.Granter { return grant.Static(true) }, nil
	case config.GrantTerminal:
		return func(id string) agent.Granter { return grant.NewTerminal(id, terminal()) }, nil
	case config.GrantPolicy:
		policy, err := grant.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		return func(id string) agent.Granter { return policy.Granter(id, nil) }, nil
	default:
		return nil, fmt.Errorf("unknown grant mode %q", cfg.Mode)
	}
}
