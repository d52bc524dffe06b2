package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/invoker"
	"relay/internal/lease"
	"relay/internal/logger"
	"relay/internal/webhook"
	pkgerrors "relay/pkg/errors"
)

type fakeLeases struct {
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeLeases) Acquire(_ context.Context, resourceID string, _ time.Duration) (*lease.Token, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &lease.Token{ResourceID: resourceID}, nil
}

func (f *fakeLeases) Release(_ context.Context, _ *lease.Token) error {
	f.released++
	return nil
}

type fakePoller struct {
	status invoker.Status
	err    error
	polled int
}

func (f *fakePoller) Poll(_ context.Context, _ string, _, _ time.Duration) (invoker.Status, error) {
	f.polled++
	if f.err != nil {
		return "", f.err
	}
	return f.status, nil
}

type fakeNotifier struct {
	notifications []webhook.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n webhook.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Pipeline:         "pl_daily",
		ResourceID:       "daily-run",
		IntervalSeconds:  time.Hour,
		JitterMaxSeconds: 0,
		LeaseSeconds:     time.Minute,
	}
}

func testInvokerConfig() config.InvokerConfig {
	return config.InvokerConfig{
		PollIntervalSeconds: time.Millisecond,
		PollTimeoutSeconds:  time.Second,
	}
}

func TestRunOnce_InvokesAndNotifies(t *testing.T) {
	leases := &fakeLeases{}
	inv := &fakeInvoker{}
	poller := &fakePoller{status: invoker.StatusSucceeded}
	notifier := &fakeNotifier{}

	s := NewScheduled(leases, inv, poller, notifier, testSchedulerConfig(), testInvokerConfig(), logger.NopLogger())

	err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, leases.acquired)
	assert.Equal(t, 1, leases.released)
	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, []string{"pl_daily"}, inv.pipelines)
	assert.Equal(t, 1, poller.polled)

	require.Len(t, notifier.notifications, 1)
	n := notifier.notifications[0]
	assert.Equal(t, "pl_daily", n.PipelineName)
	assert.Equal(t, invoker.StatusSucceeded, n.Status)

	wantCorrelation := fmt.Sprintf("scheduled-pl_daily-%s", time.Now().Format("2006-01-02"))
	assert.Equal(t, wantCorrelation, n.CorrelationID)
}

func TestRunOnce_LeaseHeldIsQuietNoOp(t *testing.T) {
	leases := &fakeLeases{acquireErr: pkgerrors.ErrLeaseHeld}
	inv := &fakeInvoker{}

	s := NewScheduled(leases, inv, &fakePoller{}, &fakeNotifier{}, testSchedulerConfig(), testInvokerConfig(), logger.NopLogger())

	err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, inv.calls)
}

func TestRunOnce_InvokeFailureReleasesLease(t *testing.T) {
	leases := &fakeLeases{}
	inv := &fakeInvoker{errs: []error{pkgerrors.ErrUpstream}}

	s := NewScheduled(leases, inv, &fakePoller{}, &fakeNotifier{}, testSchedulerConfig(), testInvokerConfig(), logger.NopLogger())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, leases.released)
}

func TestRunOnce_PollTimeoutIsNotAFailure(t *testing.T) {
	leases := &fakeLeases{}
	inv := &fakeInvoker{}
	poller := &fakePoller{err: pkgerrors.ErrTimeout}
	notifier := &fakeNotifier{}

	s := NewScheduled(leases, inv, poller, notifier, testSchedulerConfig(), testInvokerConfig(), logger.NopLogger())

	err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.notifications)
	assert.Equal(t, 1, leases.released)
}

func TestRunOnce_TerminalInvocationSkipsPolling(t *testing.T) {
	leases := &fakeLeases{}
	inv := &fakeInvoker{statusOverride: invoker.StatusSucceeded}
	poller := &fakePoller{}
	notifier := &fakeNotifier{}

	s := NewScheduled(leases, inv, poller, notifier, testSchedulerConfig(), testInvokerConfig(), logger.NopLogger())

	err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, poller.polled)
	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, invoker.StatusSucceeded, notifier.notifications[0].Status)
}

func TestRunOnce_JitterHonorsContextCancel(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.JitterMaxSeconds = time.Hour

	inv := &fakeInvoker{}
	s := NewScheduled(&fakeLeases{}, inv, &fakePoller{}, &fakeNotifier{}, cfg, testInvokerConfig(), logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inv.calls)
}
