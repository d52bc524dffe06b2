package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/metrics"
)

// Record is what the ledger stores per processed message.
type Record struct {
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type Service struct {
	repo   Repository
	ttl    time.Duration
	logger logger.Logger
}

func NewService(repo Repository, cfg config.DedupConfig, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		logger: log,
	}
}

// HasProcessed reports whether the message id is already in the ledger.
func (s *Service) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	exists, err := s.repo.Exists(ctx, constants.CacheKeyPrefixDedup+messageID)
	if err != nil {
		return false, fmt.Errorf("dedup check for message %s: %w", messageID, err)
	}

	status := "miss"
	if exists {
		status = "hit"
	}
	metrics.DedupChecksTotal.WithLabelValues(status).Inc()

	return exists, nil
}

// MarkProcessed records the message id with a conditional insert. A
// ConflictError means another worker won the race and owns this message;
// callers treat that as a benign skip, not a failure.
func (s *Service) MarkProcessed(ctx context.Context, messageID, correlationID string) error {
	record := Record{
		MessageID:     messageID,
		CorrelationID: correlationID,
		ProcessedAt:   time.Now(),
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dedup record for %s: %w", messageID, err)
	}

	inserted, err := s.repo.SetNX(ctx, constants.CacheKeyPrefixDedup+messageID, value, s.ttl)
	if err != nil {
		return fmt.Errorf("dedup insert for message %s: %w", messageID, err)
	}

	if !inserted {
		metrics.DedupChecksTotal.WithLabelValues("conflict").Inc()
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("message %s already marked processed", messageID))
	}

	return nil
}
