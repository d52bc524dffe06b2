package invoker

import (
	"context"
	"fmt"
	"time"

	"relay/internal/logger"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/metrics"
)

// Poller waits for a run to reach a terminal status. The loop is
// cooperative: it sleeps between probes, honors the caller's context, and
// gives up with TIMEOUT after the deadline. A timed-out run is not
// cancelled or assumed failed.
type Poller struct {
	client Client
	logger logger.Logger
}

func NewPoller(client Client, log logger.Logger) *Poller {
	return &Poller{
		client: client,
		logger: log,
	}
}

func (p *Poller) Poll(ctx context.Context, runID string, interval, timeout time.Duration) (Status, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.ObserveStatusPollDuration(time.Since(start), "cancelled")
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := p.client.GetStatus(ctx, runID)
		if err != nil {
			if pkgerrors.IsUpstream(err) {
				// Transient; keep polling until the deadline.
				p.logger.WarnwCtx(ctx, "Status probe failed, will retry",
					"error", err,
					"run_id", runID,
				)
			} else {
				metrics.ObserveStatusPollDuration(time.Since(start), "error")
				return "", err
			}
		} else if status.Terminal() {
			metrics.ObserveStatusPollDuration(time.Since(start), string(status))
			return status, nil
		}

		if time.Now().After(deadline) {
			metrics.ObserveStatusPollDuration(time.Since(start), "timeout")
			return "", pkgerrors.ErrTimeout.WithDetail("message", fmt.Sprintf("run %s still not terminal after %s", runID, timeout))
		}
	}
}
