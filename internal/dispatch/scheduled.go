package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/invoker"
	"relay/internal/lease"
	"relay/internal/logger"
	"relay/internal/webhook"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/logging"
)

type LeaseKeeper interface {
	Acquire(ctx context.Context, resourceID string, duration time.Duration) (*lease.Token, error)
	Release(ctx context.Context, token *lease.Token) error
}

type RunPoller interface {
	Poll(ctx context.Context, runID string, interval, timeout time.Duration) (invoker.Status, error)
}

type TerminalNotifier interface {
	Notify(ctx context.Context, notification webhook.Notification) error
}

// Scheduled fires one pipeline run per interval across any number of
// replicas. The correlation id is derived from the run date, so replicas
// that race past the lease still collapse onto a single downstream run.
type Scheduled struct {
	leases       LeaseKeeper
	invoker      PipelineInvoker
	poller       RunPoller
	notifier     TerminalNotifier
	pipeline     string
	resourceID   string
	interval     time.Duration
	jitterMax    time.Duration
	leaseFor     time.Duration
	dateFormat   string
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       logger.Logger
}

func NewScheduled(leases LeaseKeeper, inv PipelineInvoker, poller RunPoller, notifier TerminalNotifier, cfg config.SchedulerConfig, invCfg config.InvokerConfig, log logger.Logger) *Scheduled {
	interval := cfg.IntervalSeconds
	if interval <= 0 {
		interval = constants.DefaultScheduleInterval
	}

	jitterMax := cfg.JitterMaxSeconds
	if jitterMax < 0 {
		jitterMax = constants.DefaultJitterMax
	}

	leaseFor := cfg.LeaseSeconds
	if leaseFor <= 0 {
		leaseFor = constants.DefaultLeaseDuration
	}

	dateFormat := cfg.DateFormat
	if dateFormat == "" {
		dateFormat = constants.DefaultScheduleDateFormat
	}

	pollInterval := invCfg.PollIntervalSeconds
	if pollInterval <= 0 {
		pollInterval = constants.DefaultPollInterval
	}

	pollTimeout := invCfg.PollTimeoutSeconds
	if pollTimeout <= 0 {
		pollTimeout = constants.DefaultPollTimeout
	}

	return &Scheduled{
		leases:       leases,
		invoker:      inv,
		poller:       poller,
		notifier:     notifier,
		pipeline:     cfg.Pipeline,
		resourceID:   cfg.ResourceID,
		interval:     interval,
		jitterMax:    jitterMax,
		leaseFor:     leaseFor,
		dateFormat:   dateFormat,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       log,
	}
}

// Run fires RunOnce on every interval tick until the context ends.
// Individual failures are logged and the loop keeps going; a missed
// window is recovered by the next tick's idempotent invocation.
func (s *Scheduled) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.ErrorwCtx(ctx, "Scheduled run failed",
				"error", err,
				"pipeline", s.pipeline,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes one scheduled window: jitter, lease, invoke, poll,
// notify. Losing the lease race is a quiet no-op.
func (s *Scheduled) RunOnce(ctx context.Context) error {
	if err := s.sleepJitter(ctx); err != nil {
		return err
	}

	runDate := time.Now().Format(s.dateFormat)
	correlationID := fmt.Sprintf("scheduled-%s-%s", s.pipeline, runDate)
	ctx = logging.WithCorrelationID(ctx, correlationID)

	token, err := s.leases.Acquire(ctx, s.resourceID, s.leaseFor)
	if err != nil {
		if pkgerrors.IsLeaseHeld(err) {
			s.logger.InfowCtx(ctx, "Another replica holds the schedule lease, skipping window",
				"resource_id", s.resourceID,
			)
			return nil
		}
		return err
	}
	defer func() {
		if relErr := s.leases.Release(ctx, token); relErr != nil {
			s.logger.WarnwCtx(ctx, "Failed to release schedule lease",
				"error", relErr,
				"resource_id", s.resourceID,
			)
		}
	}()

	inv, err := s.invoker.Invoke(ctx, s.pipeline, map[string]interface{}{"runDate": runDate}, correlationID)
	if err != nil {
		return fmt.Errorf("scheduled invocation for %s: %w", correlationID, err)
	}

	status := inv.Status
	if !status.Terminal() {
		status, err = s.poller.Poll(ctx, inv.RunID, s.pollInterval, s.pollTimeout)
		if err != nil {
			if pkgerrors.IsTimeout(err) {
				// The run may still finish; the invocation ledger keeps it
				// from being re-fired next window.
				s.logger.WarnwCtx(ctx, "Scheduled run still not terminal at poll deadline",
					"run_id", inv.RunID,
					"pipeline", s.pipeline,
				)
				return nil
			}
			return err
		}
	}

	s.logger.InfowCtx(ctx, "Scheduled run finished",
		"pipeline", s.pipeline,
		"run_id", inv.RunID,
		"status", status,
	)

	if notifyErr := s.notifier.Notify(ctx, webhook.Notification{
		CorrelationID: correlationID,
		PipelineName:  s.pipeline,
		RunID:         inv.RunID,
		Status:        status,
	}); notifyErr != nil {
		s.logger.WarnwCtx(ctx, "Terminal status notification failed",
			"error", notifyErr,
			"run_id", inv.RunID,
		)
	}

	return nil
}

// sleepJitter spreads replica wake-ups so they do not hammer the lease
// key at the same instant.
func (s *Scheduled) sleepJitter(ctx context.Context) error {
	if s.jitterMax <= 0 {
		return nil
	}

	timer := time.NewTimer(rand.N(s.jitterMax))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
