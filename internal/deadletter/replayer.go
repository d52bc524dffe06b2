package deadletter

import (
	"context"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/models"
)

// Submitter re-runs an event through the normal dispatch path. Replay
// never bypasses dedup: an event that already succeeded elsewhere comes
// back as a duplicate and its entry is dropped all the same.
type Submitter interface {
	ProcessEvent(ctx context.Context, event models.InboundEvent) error
}

type Replayer struct {
	repo        Repository
	submitter   Submitter
	maxAttempts int
	batchSize   int
	dryRun      bool
	logger      logger.Logger
}

func NewReplayer(repo Repository, submitter Submitter, cfg config.ReplayConfig, log logger.Logger) *Replayer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultReplayMaxAttempts
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Replayer{
		repo:        repo,
		submitter:   submitter,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		dryRun:      cfg.DryRun,
		logger:      log,
	}
}

// ReplayAll drains one batch of dead letters. Entries at the replay cap
// are skipped and left for operators; everything else is resubmitted,
// deleted on success and annotated on failure. The cap counts replays
// only, so a retry-exhausted entry gets the same budget as a
// validation one.
func (r *Replayer) ReplayAll(ctx context.Context) error {
	entries, err := r.repo.List(ctx, r.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.replay(ctx, entry)
	}

	return nil
}

func (r *Replayer) replay(ctx context.Context, entry Entry) {
	ctx = logging.WithMessageID(ctx, entry.Event.ID)

	if entry.ReplayCount >= r.maxAttempts {
		metrics.DeadLetterReplaysTotal.WithLabelValues("capped").Inc()
		r.logger.WarnwCtx(ctx, "Dead letter at replay cap, leaving for operator",
			"entry_id", entry.ID,
			"replays", entry.ReplayCount,
			"reason", entry.FailureReason,
		)
		return
	}

	if r.dryRun {
		metrics.DeadLetterReplaysTotal.WithLabelValues("dry_run").Inc()
		r.logger.InfowCtx(ctx, "Dry run, would replay dead letter",
			"entry_id", entry.ID,
			"replays", entry.ReplayCount,
		)
		return
	}

	if err := r.submitter.ProcessEvent(ctx, entry.Event); err != nil {
		metrics.DeadLetterReplaysTotal.WithLabelValues("failed").Inc()
		r.logger.WarnwCtx(ctx, "Dead-letter replay failed",
			"error", err,
			"entry_id", entry.ID,
			"replays", entry.ReplayCount+1,
		)
		if recErr := r.repo.RecordAttempt(ctx, entry.ID); recErr != nil {
			r.logger.ErrorwCtx(ctx, "Failed to record replay attempt",
				"error", recErr,
				"entry_id", entry.ID,
			)
		}
		return
	}

	if err := r.repo.Delete(ctx, entry.ID); err != nil {
		r.logger.ErrorwCtx(ctx, "Replay succeeded but entry deletion failed",
			"error", err,
			"entry_id", entry.ID,
		)
		return
	}

	metrics.DeadLetterReplaysTotal.WithLabelValues("replayed").Inc()
	r.logger.InfowCtx(ctx, "Dead letter replayed",
		"entry_id", entry.ID,
	)
}
