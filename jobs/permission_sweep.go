package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatehouse-app/gatehouse/internal/jobs"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
)

// NewPermissionSweepHandler returns the handler for TaskPermissionSweep. It
// re-fetches the permission catalog and evicts cached effective sets for any
// users named in the payload so their next resolve hits Postgres.
func NewPermissionSweepHandler(resolver *rbac.Resolver, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("permission_sweep")

		var payload PermissionSweepPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}

		catalog, err := resolver.RefreshCatalog(ctx)
		if err != nil {
			if logger != nil {
				logger.Error("permission sweep", slog.Any("error", err))
			}
			return tracker.End(err)
		}
		for _, userID := range payload.UserIDs {
			resolver.Invalidate(userID)
		}
		if logger != nil {
			logger.Info("permission sweep complete",
				slog.Int("catalog_size", len(catalog)),
				slog.Int("users_invalidated", len(payload.UserIDs)))
		}
		return tracker.End(nil)
	}
}
