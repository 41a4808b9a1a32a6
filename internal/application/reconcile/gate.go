package reconcile

import (
	"context"
	"sync"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// OrchestratorFactory builds the orchestrator for a signed-in user.
type OrchestratorFactory func(userID string) (*Orchestrator, error)

// Gate is the only entry point the UI uses. Guests are never entitled and
// never reach the orchestrator, the cache or the authority.
type Gate struct {
	build  OrchestratorFactory
	clock  biztime.Clock
	logger logger.Interface

	mu   sync.RWMutex
	user entitlement.User
	orch *Orchestrator
}

// NewGate returns a gate with a guest session.
func NewGate(build OrchestratorFactory, clock biztime.Clock, log logger.Interface) *Gate {
	if clock == nil {
		clock = biztime.System()
	}
	return &Gate{
		build:  build,
		clock:  clock,
		logger: log,
		user:   entitlement.GuestUser(),
	}
}

// User returns the current identity.
func (g *Gate) User() entitlement.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user
}

// SwitchUser logs the previous user out and prepares an orchestrator for the
// new one. Switching to a guest leaves no orchestrator behind.
func (g *Gate) SwitchUser(ctx context.Context, user entitlement.User) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.orch != nil {
		if !user.IsGuest() && user.ID == g.orch.UserID() {
			g.user = user
			return nil
		}
		if err := g.orch.Logout(ctx); err != nil {
			g.logger.Warnw("logout of previous user incomplete",
				"user_id", g.orch.UserID(),
				"error", err,
			)
		}
		g.orch.Close()
		g.orch = nil
	}

	g.user = user
	if user.IsGuest() {
		g.logger.Infow("entitlement session is guest")
		return nil
	}

	orch, err := g.build(user.ID)
	if err != nil {
		g.user = entitlement.GuestUser()
		return err
	}
	g.orch = orch
	g.logger.Infow("entitlement session switched", "user_id", user.ID)
	return nil
}

// Logout ends the signed-in session.
func (g *Gate) Logout(ctx context.Context) error {
	return g.SwitchUser(ctx, entitlement.GuestUser())
}

// View returns the current display value.
func (g *Gate) View() entitlement.View {
	orch := g.current()
	if orch == nil {
		return g.guestView()
	}
	return orch.View()
}

func (g *Gate) Start(ctx context.Context) (entitlement.View, error) {
	orch := g.current()
	if orch == nil {
		return g.guestView(), nil
	}
	return orch.Start(ctx)
}

func (g *Gate) Refresh(ctx context.Context) (entitlement.View, error) {
	orch := g.current()
	if orch == nil {
		return g.guestView(), nil
	}
	return orch.Refresh(ctx)
}

// Revalidate is a no-op for guests.
func (g *Gate) Revalidate(ctx context.Context) (entitlement.View, error) {
	orch := g.current()
	if orch == nil {
		return g.guestView(), nil
	}
	return orch.Revalidate(ctx)
}

func (g *Gate) Purchase(ctx context.Context, productID string) (entitlement.View, error) {
	orch := g.current()
	if orch == nil {
		return g.guestView(), entitlement.ErrGuestNotAllowed
	}
	return orch.Purchase(ctx, productID)
}

func (g *Gate) Restore(ctx context.Context) (entitlement.View, error) {
	orch := g.current()
	if orch == nil {
		return g.guestView(), entitlement.ErrGuestNotAllowed
	}
	return orch.Restore(ctx)
}

func (g *Gate) Products(ctx context.Context) (entitlement.Catalog, error) {
	orch := g.current()
	if orch == nil {
		return nil, entitlement.ErrGuestNotAllowed
	}
	return orch.Products(ctx)
}

// Orchestrator returns the signed-in user's orchestrator, or nil for guests.
func (g *Gate) Orchestrator() *Orchestrator {
	return g.current()
}

// Close shuts the current orchestrator down without logging out.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orch != nil {
		g.orch.Close()
		g.orch = nil
	}
}

func (g *Gate) current() *Orchestrator {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.orch
}

func (g *Gate) guestView() entitlement.View {
	return entitlement.NotEntitledView(entitlement.SourceNone, g.clock.Now())
}
