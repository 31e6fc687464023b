package app

import (
	"context"
	"log/slog"

	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	"github.com/gatehouse-app/gatehouse/internal/syncbus"
	"github.com/gatehouse-app/gatehouse/internal/visibility"
)

// WireSync registers the receive side of the sync bus: a permissions event
// evicts the affected user's cached set, a visibility event re-fetches the
// page table. Event payloads are hints only; state always comes from a fresh
// fetch through the same path used at startup.
func WireSync(bus *syncbus.Bus, resolver *rbac.Resolver, store *visibility.Store, metrics *observability.Metrics, logger *slog.Logger) {
	bus.OnReceive(func(ctx context.Context, ev syncbus.Event) {
		if metrics != nil {
			metrics.SyncEvent(string(ev.Kind))
		}
		switch ev.Kind {
		case syncbus.KindPermissions:
			resolver.Invalidate(ev.SubjectID)
		case syncbus.KindVisibility:
			if err := store.Refresh(ctx); err != nil && logger != nil {
				logger.Warn("visibility refresh on sync event", slog.Any("error", err))
			}
		}
	})
}
