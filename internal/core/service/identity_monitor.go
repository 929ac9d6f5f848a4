package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

type SessionState string

const (
	SessionGuest         SessionState = "guest"
	SessionAuthenticated SessionState = "authenticated"
)

// ownerSwitcher is the part of CartEngine the monitor drives.
type ownerSwitcher interface {
	SwitchOwner(ctx context.Context, owner domain.Owner)
}

// IdentityMonitor tracks the active identity and isolates carts per owner.
type IdentityMonitor struct {
	engine ownerSwitcher
	logger *zap.Logger

	mu      sync.Mutex
	state   SessionState
	owner   domain.Owner
	started bool
}

func NewIdentityMonitor(engine ownerSwitcher, logger *zap.Logger) *IdentityMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityMonitor{
		engine: engine,
		logger: logger,
		state:  SessionGuest,
		owner:  domain.GuestOwner,
	}
}

func (m *IdentityMonitor) State() (SessionState, domain.Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.owner
}

// Observe applies one identity event. The first event always loads a cart; later
// events only switch when the identity actually changed.
func (m *IdentityMonitor) Observe(ctx context.Context, owner domain.Owner) {
	owner = owner.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started && owner == m.owner {
		m.logger.Debug("identity unchanged", zap.String("owner", owner.String()))
		return
	}

	from := m.owner
	m.started = true
	m.owner = owner
	m.state = SessionAuthenticated
	if owner.IsGuest() {
		m.state = SessionGuest
	}

	m.logger.Info("identity changed",
		zap.String("from", from.String()),
		zap.String("to", owner.String()),
		zap.String("state", string(m.state)),
	)
	m.engine.SwitchOwner(ctx, owner)
}

// Run consumes session events until the provider closes its channel or ctx ends.
func (m *IdentityMonitor) Run(ctx context.Context, provider port.IdentityProvider) {
	sessions := provider.Sessions()
	for {
		select {
		case <-ctx.Done():
			return
		case owner, ok := <-sessions:
			if !ok {
				return
			}
			m.Observe(ctx, owner)
		}
	}
}
