package cli

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/client"
	"github.com/roach88/inbox/internal/config"
	"github.com/roach88/inbox/internal/engine"
	"github.com/roach88/inbox/internal/logging"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/store"
)

// relayTimeout bounds how long a one-shot command waits for the update it
// forwards to Redis.
const relayTimeout = 2 * time.Second

// session holds what a command needs to talk to the backend: config,
// logger, backend, the optional cache and the update channels.
type session struct {
	cfg     config.Config
	logger  *zap.Logger
	backend engine.Backend
	cache   *store.Store
	bus     *notify.Bus
	redis   *notify.RedisPublisher
	updates <-chan notify.Update
	closers []func()
}

type sessionMode int

const (
	// online sessions need a backend.
	online sessionMode = iota
	// offline sessions only read the cache.
	offline
)

// openSession loads config and builds the session. The caller must Close it.
func openSession(ctx context.Context, opts *RootOptions, mode sessionMode) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, err := logging.ForCLI(opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	s := &session{cfg: cfg, logger: logger}
	s.closers = append(s.closers, func() { _ = logger.Sync() })

	if mode == offline {
		if cfg.CachePath == "" {
			s.Close()
			return nil, NewExitError(ExitCommandError, "cache is disabled (cache_path is empty)")
		}
		if err := s.openCache(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	if err := cfg.Validate(); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	factory := opts.NewBackend
	if factory == nil {
		factory = httpBackend
	}
	if s.backend, err = factory(cfg, logger); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create backend client", err)
	}

	if cfg.CachePath != "" {
		if err := s.openCache(); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.bus = notify.NewBus(64)
	updates, unsubscribe := s.bus.Subscribe()
	s.updates = updates
	s.closers = append(s.closers, unsubscribe, s.bus.Close)

	if cfg.Redis.URL != "" {
		pub, err := notify.NewRedisPublisher(ctx, cfg.Redis.URL, cfg.Redis.Channel, logger)
		if err != nil {
			// The signal is best effort; commands still work without it.
			logger.Warn("redis unavailable, updates stay in process", zap.Error(err))
		} else {
			s.redis = pub
			s.closers = append(s.closers, func() {
				if err := pub.Close(); err != nil {
					logger.Warn("close redis", zap.Error(err))
				}
			})
		}
	}
	return s, nil
}

func httpBackend(cfg config.Config, logger *zap.Logger) (engine.Backend, error) {
	return client.New(cfg.BaseURL,
		client.WithToken(cfg.Token),
		client.WithTimeout(cfg.RequestTimeout),
		client.WithLogger(logger),
	)
}

func (s *session) openCache() error {
	st, err := store.Open(s.cfg.CachePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	s.cache = st
	s.closers = append(s.closers, func() {
		if err := st.Close(); err != nil {
			s.logger.Warn("close cache", zap.Error(err))
		}
	})
	return nil
}

// Close releases everything the session opened, in reverse order.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// newEngine builds an engine wired to the session.
func (s *session) newEngine(extra ...engine.Option) *engine.Engine {
	opts := []engine.Option{
		engine.WithLogger(s.logger),
		engine.WithPeriod(s.cfg.PollInterval),
		engine.WithNotifier(s.bus),
	}
	if s.cache != nil {
		opts = append(opts, engine.WithSnapshotter(s.cache))
	}
	return engine.New(s.backend, s.cfg.UserID, append(opts, extra...)...)
}

// start runs eng in the background and loads the conversation list. The
// returned stop function shuts the engine down and waits for it.
func start(ctx context.Context, eng *engine.Engine) (engine.Snapshot, func(), error) {
	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = eng.Run(runCtx) }()
	stop := func() {
		cancel()
		<-eng.Done()
	}

	snap, err := eng.Refresh(ctx)
	if err != nil {
		stop()
		return engine.Snapshot{}, nil, err
	}
	return snap, stop, nil
}

// relay forwards the next update with reason to Redis, if configured.
func (s *session) relay(ctx context.Context, reason string) {
	if s.redis == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()
	for {
		select {
		case u, ok := <-s.updates:
			if !ok {
				return
			}
			if u.Reason != reason {
				continue
			}
			if _, err := s.redis.Publish(wctx, u); err != nil {
				s.logger.Warn("relay update", zap.String("reason", reason), zap.Error(err))
			}
			return
		case <-wctx.Done():
			if !errors.Is(wctx.Err(), context.Canceled) {
				s.logger.Warn("no update to relay", zap.String("reason", reason))
			}
			return
		}
	}
}
