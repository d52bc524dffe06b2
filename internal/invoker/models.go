package invoker

import "time"

type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Invocation ties one dispatch attempt to exactly one downstream run. The
// correlation id is the idempotency key: re-invoking with the same id
// returns the existing record instead of starting a second run.
type Invocation struct {
	CorrelationID string                 `bson:"correlation_id" json:"correlationId"`
	PipelineName  string                 `bson:"pipeline_name" json:"pipelineName"`
	Parameters    map[string]interface{} `bson:"parameters,omitempty" json:"parameters,omitempty"`
	Status        Status                 `bson:"status" json:"status"`
	RunID         string                 `bson:"run_id" json:"runId"`
	StartedAt     time.Time              `bson:"started_at" json:"startedAt"`
	CompletedAt   *time.Time             `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}
