package deadletter

import (
	"time"

	"relay/pkg/models"
)

// Entry is a durable dead-letter row: the original event plus enough
// failure metadata for operators and the replayer. AttemptCount records
// the dispatch attempts that led here; ReplayCount tracks resubmissions
// so the replay budget is not consumed by the original failure. Deleted
// only after a successful replay.
type Entry struct {
	ID            int64               `json:"id"`
	Event         models.InboundEvent `json:"event"`
	FailureReason string              `json:"failureReason"`
	AttemptCount  int                 `json:"attemptCount"`
	ReplayCount   int                 `json:"replayCount"`
	FirstFailedAt time.Time           `json:"firstFailedAt"`
	LastAttemptAt time.Time           `json:"lastAttemptAt"`
}
