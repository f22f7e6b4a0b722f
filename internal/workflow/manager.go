package workflow

import (
	"context"
	"log/slog"
	"time"

	"isomine/internal/config"
	"isomine/internal/lock"
	"isomine/internal/logging"
	"isomine/internal/stage"
)

// Manager dispatches stage handlers against one run per invocation.
type Manager struct {
	cfg      *config.Config
	registry *stage.Registry
	logger   *slog.Logger
	clock    func() time.Time
	lockOpts lock.Options
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source used for state timestamps.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLockOptions overrides lock acquisition tuning.
func WithLockOptions(opts lock.Options) ManagerOption {
	return func(m *Manager) { m.lockOpts = opts }
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, registry *stage.Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		clock:    time.Now,
	}
	if cfg != nil && cfg.Run.LockStaleMinutes > 0 {
		m.lockOpts.StaleAfter = time.Duration(cfg.Run.LockStaleMinutes) * time.Minute
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() time.Time { return m.clock().UTC() }

// Health reports the readiness of every registered stage.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	if m.registry == nil {
		return nil
	}
	handlers := m.registry.Handlers()
	out := make([]stage.Health, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.HealthCheck(ctx))
	}
	return out
}
