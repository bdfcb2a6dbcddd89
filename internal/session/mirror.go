package session

import (
	"context"
	"time"

	"teamcards/internal/domain"
)

const cacheWriteTimeout = 2 * time.Second

// loadHint reads the persisted view and, when it remembers a signed-in user,
// publishes it as an unconfirmed hint on the unauthenticated view.
func (a *Authority) loadHint(ctx context.Context) {
	cached, ok, err := a.cache.Load(ctx)
	if err != nil {
		a.logger.Warn("loading cached view failed; starting without hint", "error", err)
		return
	}
	if !ok || !cached.IdentityPresent {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.view.State != domain.StateUnauthenticated {
		return
	}
	a.logger.Debug("restored cached view hint",
		"is_administrator", cached.IsAdministrator,
		"saved_at", cached.SavedAt,
	)
	a.publishLocked(domain.View{State: domain.StateUnauthenticated, Hint: &cached})
}

// mirror keeps the persisted cache in step with published views. It runs as
// an ordinary subscriber so writes happen in publication order.
func (a *Authority) mirror(v domain.View) {
	switch {
	case v.State == domain.StateResolved:
		a.writeCache("save", func(ctx context.Context) error {
			return a.cache.Save(ctx, domain.CachedView{
				IdentityPresent: true,
				IsAdministrator: v.IsAdministrator,
				Profile:         v.Profile,
				SavedAt:         a.now().UTC(),
			})
		})
	case v.State == domain.StateUnauthenticated && v.Hint == nil:
		a.writeCache("clear", a.cache.Clear)
	}
}

func (a *Authority) writeCache(op string, write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()

	result := "success"
	if err := write(ctx); err != nil {
		result = "error"
		a.logger.Warn("persisting view failed", "op", op, "error", err)
	}
	if a.metrics != nil {
		a.metrics.RecordCacheWrite(ctx, op, result)
	}
}
