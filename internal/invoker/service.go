package invoker

import (
	"context"
	"fmt"
	"time"

	"relay/internal/logger"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/metrics"
)

// Service is the idempotent invoker. A correlation id maps to at most one
// downstream run: an existing non-Failed invocation is returned as-is,
// only a Failed one may be superseded by a fresh run.
type Service struct {
	client Client
	repo   Repository
	logger logger.Logger
}

func NewService(client Client, repo Repository, log logger.Logger) *Service {
	return &Service{
		client: client,
		repo:   repo,
		logger: log,
	}
}

func (s *Service) Invoke(ctx context.Context, pipelineName string, parameters map[string]interface{}, correlationID string) (*Invocation, error) {
	existing, err := s.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return nil, fmt.Errorf("invocation lookup for %s: %w", correlationID, err)
	}

	if existing != nil && existing.Status != StatusFailed {
		s.logger.InfowCtx(ctx, "Reusing existing invocation",
			"correlation_id", correlationID,
			"run_id", existing.RunID,
			"status", existing.Status,
		)
		metrics.PipelineInvocationsTotal.WithLabelValues(pipelineName, "reused").Inc()
		return existing, nil
	}

	runID, err := s.client.Run(ctx, pipelineName, parameters)
	if err != nil {
		metrics.PipelineInvocationsTotal.WithLabelValues(pipelineName, "error").Inc()
		return nil, err
	}

	inv := &Invocation{
		CorrelationID: correlationID,
		PipelineName:  pipelineName,
		Parameters:    parameters,
		Status:        StatusRunning,
		RunID:         runID,
		StartedAt:     time.Now(),
	}

	// A fresh correlation id is recorded with a plain insert; a Failed
	// record must be replaced conditionally, because the unique index
	// would reject a second insert while the old document still exists.
	var recordErr error
	outcome := "started"
	if existing != nil {
		recordErr = s.repo.Supersede(ctx, inv)
		outcome = "superseded"
	} else {
		recordErr = s.repo.Insert(ctx, inv)
	}
	if recordErr != nil {
		if pkgerrors.IsConflict(recordErr) {
			// Lost the record race; whoever won owns the run now.
			winner, findErr := s.repo.FindByCorrelationID(ctx, correlationID)
			if findErr == nil {
				metrics.PipelineInvocationsTotal.WithLabelValues(pipelineName, "reused").Inc()
				return winner, nil
			}
		}
		return nil, fmt.Errorf("failed to record invocation %s: %w", correlationID, recordErr)
	}

	metrics.PipelineInvocationsTotal.WithLabelValues(pipelineName, outcome).Inc()
	s.logger.InfowCtx(ctx, "Pipeline run started",
		"pipeline", pipelineName,
		"correlation_id", correlationID,
		"run_id", runID,
	)

	return inv, nil
}

// GetStatus reads the live status from the pipeline API and mirrors
// terminal transitions into the invocation ledger.
func (s *Service) GetStatus(ctx context.Context, correlationID string) (Status, error) {
	inv, err := s.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return "", err
	}

	return s.refreshStatus(ctx, inv)
}

// GetRunStatus reads the live status for a raw run id.
func (s *Service) GetRunStatus(ctx context.Context, runID string) (Status, error) {
	return s.client.GetStatus(ctx, runID)
}

func (s *Service) refreshStatus(ctx context.Context, inv *Invocation) (Status, error) {
	if inv.Status.Terminal() {
		return inv.Status, nil
	}

	status, err := s.client.GetStatus(ctx, inv.RunID)
	if err != nil {
		return "", err
	}

	if status.Terminal() && status != inv.Status {
		now := time.Now()
		if err := s.repo.UpdateStatus(ctx, inv.CorrelationID, status, &now); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to persist terminal invocation status",
				"error", err,
				"correlation_id", inv.CorrelationID,
				"status", status,
			)
		}
	}

	return status, nil
}
