package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVisibilityRefresh reloads the page-visibility table from Postgres.
	TaskVisibilityRefresh = "visibility:refresh"
	// TaskPermissionSweep refreshes the permission catalog and drops cached
	// effective sets for the listed users.
	TaskPermissionSweep = "permissions:sweep"
)

// PermissionSweepPayload scopes a sweep to specific users. An empty list
// refreshes the catalog only.
type PermissionSweepPayload struct {
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// NewVisibilityRefreshTask constructs an Asynq task.
func NewVisibilityRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskVisibilityRefresh, nil)
}

// NewPermissionSweepTask constructs an Asynq task.
func NewPermissionSweepTask(payload PermissionSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionSweep, data), nil
}
