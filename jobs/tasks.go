package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskSummaryRefresh recomputes market price summaries.
	TaskSummaryRefresh = "pricing:summary_refresh"
	// TaskAnomalySweep replaces outlying active prices with the market summary.
	TaskAnomalySweep = "pricing:anomaly_sweep"
	// TaskPlanRollup recomputes menu plan costs from recipes upwards.
	TaskPlanRollup = "costing:plan_rollup"
	// TaskProductRollup recomputes every cost that depends on one product.
	TaskProductRollup = "costing:product_rollup"
	// TaskIdempotencyCleanup prunes expired ingestion idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SummaryRefreshPayload selects one product or, when empty, every product
// observed within the summary window.
type SummaryRefreshPayload struct {
	ProductID *int64 `json:"product_id,omitempty"`
}

// AnomalySweepPayload tunes the sweep. Zero values use the configured defaults.
type AnomalySweepPayload struct {
	Ratio         float64 `json:"ratio,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	DryRun        bool    `json:"dry_run,omitempty"`
}

// PlanRollupPayload selects one plan or, when empty, every plan.
type PlanRollupPayload struct {
	PlanID *int64 `json:"plan_id,omitempty"`
}

// ProductRollupPayload names the product whose price changed.
type ProductRollupPayload struct {
	ProductID int64 `json:"product_id"`
}

// NewSummaryRefreshTask constructs a summary refresh task.
func NewSummaryRefreshTask(productID *int64) (*asynq.Task, error) {
	return newTask(TaskSummaryRefresh, SummaryRefreshPayload{ProductID: productID})
}

// NewAnomalySweepTask constructs an anomaly sweep task.
func NewAnomalySweepTask(payload AnomalySweepPayload) (*asynq.Task, error) {
	return newTask(TaskAnomalySweep, payload)
}

// NewPlanRollupTask constructs a plan rollup task.
func NewPlanRollupTask(planID *int64) (*asynq.Task, error) {
	return newTask(TaskPlanRollup, PlanRollupPayload{PlanID: planID})
}

// NewProductRollupTask constructs a product rollup task. Tasks for the same
// product are deduplicated for a minute.
func NewProductRollupTask(productID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ProductRollupPayload{ProductID: productID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProductRollup, body, asynq.Queue(QueueDefault), asynq.Unique(time.Minute)), nil
}

// NewIdempotencyCleanupTask constructs the key pruning task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(t *asynq.Task, target any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
