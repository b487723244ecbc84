package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gerai-pos/gerai/internal/reconcile"
	"github.com/gerai-pos/gerai/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileRun replays the movement and ledger chains and reports
	// divergence.
	TaskReconcileRun = "reconcile:run"
	// TaskIdempotencyCleanup prunes processed idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewReconcileTask constructs the reconciliation task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskReconcileRun, nil)
}

// NewReconcileHandler runs the reconciliation engine and emits the report as
// the task result.
func NewReconcileHandler(engine *reconcile.Engine, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		report, err := engine.Run(ctx)
		if err != nil {
			logger.Error("reconciliation run failed", "error", err)
			return err
		}
		if payload, err := json.Marshal(report); err == nil {
			_, _ = t.ResultWriter().Write(payload)
		}
		return nil
	}
}

// IdempotencyRetention is how long processed keys are kept before cleanup.
const IdempotencyRetention = 7 * 24 * time.Hour

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NewIdempotencyCleanupHandler prunes keys older than the retention window.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, IdempotencyRetention); err != nil {
			logger.Error("idempotency cleanup failed", "error", err)
			return err
		}
		logger.Info("idempotency cleanup finished")
		return nil
	}
}
