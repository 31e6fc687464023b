package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatehouse-app/gatehouse/internal/jobs"
	"github.com/gatehouse-app/gatehouse/internal/visibility"
)

// NewVisibilityRefreshHandler returns the handler for TaskVisibilityRefresh.
// Pub/sub normally keeps the in-memory table current; the periodic refresh
// catches events lost while an instance was down.
func NewVisibilityRefreshHandler(store *visibility.Store, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("visibility_refresh")
		err := store.Refresh(ctx)
		if err != nil {
			if logger != nil {
				logger.Error("visibility refresh", slog.Any("error", err))
			}
			return tracker.End(err)
		}
		if logger != nil {
			logger.Info("visibility table refreshed", slog.String("job", "visibility_refresh"))
		}
		return tracker.End(nil)
	}
}
