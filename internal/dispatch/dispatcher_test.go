package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/deadletter"
	"relay/internal/invoker"
	"relay/internal/logger"
	"relay/internal/routing"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/models"
)

type fakeLedger struct {
	processed  map[string]bool
	hasErr     error
	markErr    error
	markCalled int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{processed: map[string]bool{}}
}

func (f *fakeLedger) HasProcessed(_ context.Context, messageID string) (bool, error) {
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.processed[messageID], nil
}

func (f *fakeLedger) MarkProcessed(_ context.Context, messageID, _ string) error {
	f.markCalled++
	if f.markErr != nil {
		return f.markErr
	}
	f.processed[messageID] = true
	return nil
}

type fakeInvoker struct {
	calls          int
	errs           []error
	pipelines      []string
	statusOverride invoker.Status
}

func (f *fakeInvoker) Invoke(_ context.Context, pipelineName string, _ map[string]interface{}, correlationID string) (*invoker.Invocation, error) {
	f.calls++
	f.pipelines = append(f.pipelines, pipelineName)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	status := invoker.StatusRunning
	if f.statusOverride != "" {
		status = f.statusOverride
	}
	return &invoker.Invocation{
		CorrelationID: correlationID,
		PipelineName:  pipelineName,
		Status:        status,
		RunID:         "run-" + correlationID,
	}, nil
}

type fakeRoutes struct {
	table *routing.Table
}

func (f *fakeRoutes) Snapshot() *routing.Table {
	return f.table
}

type fakeSink struct {
	entries   []*deadletter.Entry
	insertErr error
}

func (f *fakeSink) Insert(_ context.Context, entry *deadletter.Entry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func testRoutes(t *testing.T) *fakeRoutes {
	t.Helper()
	table, err := routing.Load([]byte(`{
		"defaultPipeline": "pl_default",
		"routes": {"type:emergency": "pl_emergency"}
	}`))
	require.NoError(t, err)
	return &fakeRoutes{table: table}
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		MaxAttempts: 3,
		Retry: config.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      1.5,
			MaxElapsedTime:  time.Second,
		},
	}
}

func newTestDispatcher(t *testing.T, ledger *fakeLedger, inv *fakeInvoker, sink *fakeSink) *Dispatcher {
	t.Helper()
	return NewDispatcher(ledger, testRoutes(t), inv, sink, testDispatchConfig(), logger.NopLogger())
}

func TestProcessEvent_Success(t *testing.T) {
	ledger := newFakeLedger()
	inv := &fakeInvoker{}
	sink := &fakeSink{}
	d := newTestDispatcher(t, ledger, inv, sink)

	err := d.ProcessEvent(context.Background(), models.InboundEvent{ID: "msg-1", EventType: "emergency"})
	require.NoError(t, err)

	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, []string{"pl_emergency"}, inv.pipelines)
	assert.True(t, ledger.processed["msg-1"])
	assert.Empty(t, sink.entries)
}

func TestProcessEvent_DuplicateSkipsInvocation(t *testing.T) {
	ledger := newFakeLedger()
	ledger.processed["msg-1"] = true
	inv := &fakeInvoker{}
	d := newTestDispatcher(t, ledger, inv, &fakeSink{})

	err := d.ProcessEvent(context.Background(), models.InboundEvent{ID: "msg-1"})
	require.NoError(t, err)
	assert.Zero(t, inv.calls)
}

func TestProcessEvent_RetriesTransientThenSucceeds(t *testing.T) {
	ledger := newFakeLedger()
	inv := &fakeInvoker{errs: []error{pkgerrors.ErrUpstream, nil}}
	d := newTestDispatcher(t, ledger, inv, &fakeSink{})

	err := d.ProcessEvent(context.Background(), models.InboundEvent{ID: "msg-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)
	assert.True(t, ledger.processed["msg-1"])
}

func TestProcessEvent_FatalErrorNotRetried(t *testing.T) {
	ledger := newFakeLedger()
	inv := &fakeInvoker{errs: []error{pkgerrors.ErrValidation}}
	d := newTestDispatcher(t, ledger, inv, &fakeSink{})

	err := d.ProcessEvent(context.Background(), models.InboundEvent{ID: "msg-1"})
	require.Error(t, err)
	assert.Equal(t, 1, inv.calls)
	assert.False(t, ledger.processed["msg-1"])
}

func TestProcessEvent_InfraErrorFromLedger(t *testing.T) {
	ledger := newFakeLedger()
	ledger.hasErr = errors.New("redis down")
	inv := &fakeInvoker{}
	d := newTestDispatcher(t, ledger, inv, &fakeSink{})

	err := d.ProcessEvent(context.Background(), models.InboundEvent{ID: "msg-1"})
	require.Error(t, err)
	assert.Zero(t, inv.calls)
}

func TestProcessEvent_MarkConflictIsBenign(t *testing.T) {
	ledger := newFakeLedger()
	ledger.markErr = pkgerrors.ErrConflict
	inv := &fakeInvoker{}
	d := newTestDispatcher(t, ledger, inv, &fakeSink{})

	err := d.ProcessEvent(context.Background(), models.InboundEvent{ID: "msg-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)
}

func TestProcessMessage_RetryExhaustionDeadLetters(t *testing.T) {
	ledger := newFakeLedger()
	inv := &fakeInvoker{errs: []error{pkgerrors.ErrUpstream, pkgerrors.ErrUpstream, pkgerrors.ErrUpstream}}
	sink := &fakeSink{}
	d := newTestDispatcher(t, ledger, inv, sink)

	err := d.ProcessMessage(context.Background(), []byte(`{"messageId": "msg-1"}`))
	require.NoError(t, err)

	assert.Equal(t, 3, inv.calls)
	require.Len(t, sink.entries, 1)
	assert.Contains(t, sink.entries[0].FailureReason, "UPSTREAM_ERROR")
	assert.Equal(t, 3, sink.entries[0].AttemptCount)
	assert.False(t, ledger.processed["msg-1"])
}

func TestProcessMessage_ValidationErrorDeadLettersOnce(t *testing.T) {
	ledger := newFakeLedger()
	inv := &fakeInvoker{errs: []error{pkgerrors.ErrValidation}}
	sink := &fakeSink{}
	d := newTestDispatcher(t, ledger, inv, sink)

	err := d.ProcessMessage(context.Background(), []byte(`{"messageId": "msg-1"}`))
	require.NoError(t, err)

	assert.Equal(t, 1, inv.calls)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, 1, sink.entries[0].AttemptCount)
}

func TestProcessMessage_MalformedPayloadDeadLetters(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(t, newFakeLedger(), &fakeInvoker{}, sink)

	err := d.ProcessMessage(context.Background(), []byte(`{broken`))
	require.NoError(t, err)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, `{broken`, sink.entries[0].Event.Parameters["raw"])
}

func TestProcessMessage_InfraErrorPropagatesForRedelivery(t *testing.T) {
	ledger := newFakeLedger()
	ledger.hasErr = errors.New("redis down")
	sink := &fakeSink{}
	d := newTestDispatcher(t, ledger, &fakeInvoker{}, sink)

	err := d.ProcessMessage(context.Background(), []byte(`{"messageId": "msg-1"}`))
	require.Error(t, err)
	assert.Empty(t, sink.entries)
}

func TestProcessMessage_DeadLetterStoreDownPropagates(t *testing.T) {
	inv := &fakeInvoker{errs: []error{pkgerrors.ErrValidation}}
	sink := &fakeSink{insertErr: fmt.Errorf("postgres down")}
	d := newTestDispatcher(t, newFakeLedger(), inv, sink)

	err := d.ProcessMessage(context.Background(), []byte(`{"messageId": "msg-1"}`))
	require.Error(t, err)
}

type panickingInvoker struct{}

func (p *panickingInvoker) Invoke(context.Context, string, map[string]interface{}, string) (*invoker.Invocation, error) {
	panic("poisoned parameters")
}

func TestProcessMessage_PanicDeadLetters(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(newFakeLedger(), testRoutes(t), &panickingInvoker{}, sink, testDispatchConfig(), logger.NopLogger())

	err := d.ProcessMessage(context.Background(), []byte(`{"messageId": "msg-1"}`))
	require.NoError(t, err)

	require.Len(t, sink.entries, 1)
	assert.Contains(t, sink.entries[0].FailureReason, "poisoned parameters")
}

func TestProcessMessage_GridBatchDispatchesEach(t *testing.T) {
	ledger := newFakeLedger()
	inv := &fakeInvoker{}
	d := newTestDispatcher(t, ledger, inv, &fakeSink{})

	raw := []byte(`[
		{"id": "evt-1", "eventType": "created", "data": {"url": "https://acct.blob.core.windows.net/c/raw/a.json"}},
		{"id": "evt-2", "eventType": "created", "data": {"url": "https://acct.blob.core.windows.net/c/raw/b.json"}}
	]`)

	err := d.ProcessMessage(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)
	assert.True(t, ledger.processed["evt-1"])
	assert.True(t, ledger.processed["evt-2"])
}
