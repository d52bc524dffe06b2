package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/deadletter"
	"relay/internal/invoker"
	"relay/internal/logger"
	"relay/internal/routing"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/retry"
)

type DedupLedger interface {
	HasProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID, correlationID string) error
}

type PipelineInvoker interface {
	Invoke(ctx context.Context, pipelineName string, parameters map[string]interface{}, correlationID string) (*invoker.Invocation, error)
}

type RouteSource interface {
	Snapshot() *routing.Table
}

type DeadLetterSink interface {
	Insert(ctx context.Context, entry *deadletter.Entry) error
}

// Dispatcher runs the per-message state machine. Workers share nothing
// in-process; the dedup ledger's conditional insert is the only
// cross-worker coordination point.
type Dispatcher struct {
	dedup       DedupLedger
	routes      RouteSource
	invoker     PipelineInvoker
	dlq         DeadLetterSink
	policy      retry.Policy
	maxAttempts int
	logger      logger.Logger
}

func NewDispatcher(ledger DedupLedger, routes RouteSource, inv PipelineInvoker, dlq DeadLetterSink, cfg config.DispatchConfig, log logger.Logger) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = maxAttempts
	if cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = cfg.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = cfg.Retry.MaxInterval
	}
	if cfg.Retry.Multiplier > 0 {
		policy.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.Retry.MaxElapsedTime
	}

	return &Dispatcher{
		dedup:       ledger,
		routes:      routes,
		invoker:     inv,
		dlq:         dlq,
		policy:      policy,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// ProcessMessage handles one raw transport message end to end. A nil
// return means the message is settled (succeeded, duplicate or
// dead-lettered) and may be acknowledged; an error means an
// infrastructure dependency failed and the transport should redeliver.
func (d *Dispatcher) ProcessMessage(ctx context.Context, raw []byte) error {
	start := time.Now()

	events, err := Decode(raw)
	if err != nil {
		// Malformed payloads go straight to the dead-letter store.
		entry := deadletter.NewEntry(models.InboundEvent{
			Parameters: map[string]interface{}{"raw": string(raw)},
			ReceivedAt: time.Now(),
		}, err.Error(), 0)

		if dlqErr := d.dlq.Insert(ctx, entry); dlqErr != nil {
			return fmt.Errorf("failed to dead-letter malformed payload: %w", dlqErr)
		}

		metrics.DeadLettersTotal.WithLabelValues("validation").Inc()
		metrics.DispatchMessagesTotal.WithLabelValues(StateDeadLettered.String()).Inc()
		d.logger.WarnwCtx(ctx, "Malformed payload dead-lettered",
			"error", err,
		)
		return nil
	}

	for _, event := range events {
		if err := d.processOne(ctx, event); err != nil {
			return err
		}
	}

	metrics.ObserveDispatchDuration(time.Since(start), "settled")
	return nil
}

func (d *Dispatcher) processOne(ctx context.Context, event models.InboundEvent) error {
	err := d.safeProcessEvent(ctx, event)
	if err == nil {
		return nil
	}

	var appErr *pkgerrors.Error
	if !errors.As(err, &appErr) {
		// Not a dispatch outcome but an infrastructure failure (ledger or
		// invocation store unreachable); let the transport redeliver.
		return err
	}

	reason := "retry_exhausted"
	attempts := d.maxAttempts
	if appErr.IsFatal() {
		reason = "validation"
		attempts = 1
	}

	entry := deadletter.NewEntry(event, err.Error(), attempts)
	if dlqErr := d.dlq.Insert(ctx, entry); dlqErr != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", event.ID, dlqErr)
	}

	metrics.DeadLettersTotal.WithLabelValues(reason).Inc()
	metrics.DispatchMessagesTotal.WithLabelValues(StateDeadLettered.String()).Inc()
	d.logger.ErrorwCtx(ctx, "Message dead-lettered",
		"error", err,
		"message_id", event.ID,
		"reason", reason,
		"attempts", attempts,
	)

	return nil
}

// safeProcessEvent converts a panic in the dispatch path into a fatal
// error so one poisoned message dead-letters instead of killing the
// consumer loop.
func (d *Dispatcher) safeProcessEvent(ctx context.Context, event models.InboundEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
			d.logger.ErrorwCtx(ctx, "Panic while processing event",
				"error", err,
				"message_id", event.ID,
			)
		}
	}()
	return d.ProcessEvent(ctx, event)
}

// ProcessEvent runs dedup, routing and the idempotent invocation for one
// decoded event. It does not touch the dead-letter store; callers decide
// what a failure means (ProcessMessage dead-letters, the replayer counts
// the attempt).
func (d *Dispatcher) ProcessEvent(ctx context.Context, event models.InboundEvent) error {
	ctx = logging.WithMessageID(ctx, event.ID)
	ctx = logging.WithCorrelationID(ctx, event.ID)

	processed, err := d.dedup.HasProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if processed {
		// Duplicate delivery is expected under at-least-once transport.
		metrics.DispatchMessagesTotal.WithLabelValues(StateDeduped.String()).Inc()
		d.logger.InfowCtx(ctx, "Duplicate message skipped")
		return nil
	}

	pipeline := routing.Route(event, d.routes.Snapshot())
	d.logger.DebugwCtx(ctx, "Event routed",
		"pipeline", pipeline,
		"state", StateRouted.String(),
	)

	var inv *invoker.Invocation
	err = retry.DoWithCallback(ctx, d.policy, func() error {
		var invErr error
		inv, invErr = d.invoker.Invoke(ctx, pipeline, event.Parameters, event.ID)
		return invErr
	}, func(attempt int, attemptErr error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("dispatcher").Inc()
		d.logger.WarnwCtx(ctx, "Invocation failed, retrying",
			"attempt", attempt,
			"max_attempts", d.maxAttempts,
			"next_delay", nextDelay,
			"error", attemptErr,
			"pipeline", pipeline,
		)
	})
	if err != nil {
		metrics.DispatchMessagesTotal.WithLabelValues(StateFailed.String()).Inc()
		return err
	}

	if err := d.dedup.MarkProcessed(ctx, event.ID, event.ID); err != nil {
		if pkgerrors.IsConflict(err) {
			// Another worker finished first; the invocation ledger already
			// collapsed the two attempts into one run.
			metrics.DispatchMessagesTotal.WithLabelValues(StateDeduped.String()).Inc()
			d.logger.InfowCtx(ctx, "Concurrent worker completed this message first")
			return nil
		}
		return fmt.Errorf("failed to mark message processed: %w", err)
	}

	metrics.DispatchMessagesTotal.WithLabelValues(StateSucceeded.String()).Inc()
	d.logger.InfowCtx(ctx, "Message dispatched",
		"pipeline", pipeline,
		"run_id", inv.RunID,
		"state", StateSucceeded.String(),
	)

	return nil
}
