package task

import (
	"context"
	"errors"
	"fmt"

	"ambassador-controlplane/pkg/errutil"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
}

// NewEnqueuer creates a new Enqueuer instance using asynq.Client.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

// Enqueue reports a task id that is still queued or running as Conflict.
func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, errutil.Conflict("task is already queued", err,
			errutil.WithDetails(errutil.Detail{Field: "type", Message: task.Type()}))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	zap.L().Debug("[Asynq] task enqueued", zap.String("task_type", task.Type()), zap.String("queue", info.Queue), zap.String("task_id", info.ID))
	return info, nil
}
