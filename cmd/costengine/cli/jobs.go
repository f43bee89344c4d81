package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/aydarnuman/catering-pro-sub001/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the pricing and costing queue.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerOptions narrows a manually enqueued task.
type TriggerOptions struct {
	ProductID int64
	PlanID    int64
	DryRun    bool
}

// TaskTypes lists the task types Trigger accepts.
func TaskTypes() []string {
	return []string{jobs.TaskSummaryRefresh, jobs.TaskAnomalySweep, jobs.TaskPlanRollup, jobs.TaskProductRollup, jobs.TaskIdempotencyCleanup}
}

// Trigger enqueues a supported task by type.
func (c *JobsCLI) Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if opts.DryRun && name != jobs.TaskAnomalySweep {
		return nil, fmt.Errorf("jobs cli: --dry-run only applies to %s", jobs.TaskAnomalySweep)
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskSummaryRefresh:
		task, err = jobs.NewSummaryRefreshTask(optionalID(opts.ProductID))
	case jobs.TaskAnomalySweep:
		task, err = jobs.NewAnomalySweepTask(jobs.AnomalySweepPayload{DryRun: opts.DryRun})
	case jobs.TaskPlanRollup:
		task, err = jobs.NewPlanRollupTask(optionalID(opts.PlanID))
	case jobs.TaskProductRollup:
		if opts.ProductID <= 0 {
			return nil, fmt.Errorf("jobs cli: %s needs --product-id", name)
		}
		task, err = jobs.NewProductRollupTask(opts.ProductID)
	case jobs.TaskIdempotencyCleanup:
		task = jobs.NewIdempotencyCleanupTask()
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	if err := ctx.Err(); err != nil {
		return QueueStats{}, err
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
