package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	pkgerrors "relay/pkg/errors"
)

type fakeClient struct {
	runCalls    int
	runErr      error
	runID       string
	statusCalls int
	status      Status
	statusErr   error
}

func (f *fakeClient) Run(_ context.Context, _ string, _ map[string]interface{}) (string, error) {
	f.runCalls++
	if f.runErr != nil {
		return "", f.runErr
	}
	if f.runID == "" {
		return "run-1", nil
	}
	return f.runID, nil
}

func (f *fakeClient) GetStatus(_ context.Context, _ string) (Status, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

// memRepository mirrors the store's unique-index contract: Insert
// conflicts on any existing correlation id, Supersede replaces only a
// record still in Failed. lookupQueue scripts stale reads for race
// tests; a nil element is a miss.
type memRepository struct {
	invocations map[string]*Invocation
	lookupQueue []*Invocation
	insertErr   error
	inserted    int
	superseded  int
}

func newMemRepository() *memRepository {
	return &memRepository{invocations: map[string]*Invocation{}}
}

func (r *memRepository) FindByCorrelationID(_ context.Context, correlationID string) (*Invocation, error) {
	if len(r.lookupQueue) > 0 {
		next := r.lookupQueue[0]
		r.lookupQueue = r.lookupQueue[1:]
		if next == nil {
			return nil, pkgerrors.ErrNotFound
		}
		copied := *next
		return &copied, nil
	}
	inv, ok := r.invocations[correlationID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	copied := *inv
	return &copied, nil
}

func (r *memRepository) Insert(_ context.Context, inv *Invocation) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.invocations[inv.CorrelationID]; ok {
		return pkgerrors.ErrConflict
	}
	r.inserted++
	copied := *inv
	r.invocations[inv.CorrelationID] = &copied
	return nil
}

func (r *memRepository) Supersede(_ context.Context, inv *Invocation) error {
	existing, ok := r.invocations[inv.CorrelationID]
	if !ok || existing.Status != StatusFailed {
		return pkgerrors.ErrConflict
	}
	r.superseded++
	copied := *inv
	r.invocations[inv.CorrelationID] = &copied
	return nil
}

func (r *memRepository) UpdateStatus(_ context.Context, correlationID string, status Status, completedAt *time.Time) error {
	inv, ok := r.invocations[correlationID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	inv.Status = status
	inv.CompletedAt = completedAt
	return nil
}

func TestService_Invoke_StartsRun(t *testing.T) {
	client := &fakeClient{runID: "run-7"}
	repo := newMemRepository()
	svc := NewService(client, repo, logger.NopLogger())

	inv, err := svc.Invoke(context.Background(), "pl_a", map[string]interface{}{"k": "v"}, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, "run-7", inv.RunID)
	assert.Equal(t, StatusRunning, inv.Status)
	assert.Equal(t, 1, client.runCalls)
	assert.Equal(t, 1, repo.inserted)
}

func TestService_Invoke_ReusesExistingRun(t *testing.T) {
	client := &fakeClient{}
	repo := newMemRepository()
	repo.invocations["corr-1"] = &Invocation{
		CorrelationID: "corr-1",
		PipelineName:  "pl_a",
		Status:        StatusRunning,
		RunID:         "run-existing",
	}
	svc := NewService(client, repo, logger.NopLogger())

	inv, err := svc.Invoke(context.Background(), "pl_a", nil, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, "run-existing", inv.RunID)
	assert.Zero(t, client.runCalls)
}

func TestService_Invoke_SupersedesFailedRun(t *testing.T) {
	client := &fakeClient{runID: "run-retry"}
	repo := newMemRepository()
	repo.invocations["corr-1"] = &Invocation{
		CorrelationID: "corr-1",
		Status:        StatusFailed,
		RunID:         "run-dead",
	}
	svc := NewService(client, repo, logger.NopLogger())

	inv, err := svc.Invoke(context.Background(), "pl_a", nil, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, "run-retry", inv.RunID)
	assert.Equal(t, StatusRunning, inv.Status)
	assert.Equal(t, 1, client.runCalls)

	// The fresh run replaced the Failed document in the ledger.
	assert.Equal(t, 1, repo.superseded)
	assert.Zero(t, repo.inserted)
	stored := repo.invocations["corr-1"]
	assert.Equal(t, "run-retry", stored.RunID)
	assert.Equal(t, StatusRunning, stored.Status)
}

func TestService_Invoke_InsertRaceReturnsWinner(t *testing.T) {
	client := &fakeClient{runID: "run-loser"}
	repo := newMemRepository()
	// The first lookup misses; a concurrent worker records the winner
	// before this worker's insert lands.
	repo.lookupQueue = []*Invocation{nil}
	repo.invocations["corr-1"] = &Invocation{
		CorrelationID: "corr-1",
		Status:        StatusRunning,
		RunID:         "run-winner",
	}
	svc := NewService(client, repo, logger.NopLogger())

	inv, err := svc.Invoke(context.Background(), "pl_a", nil, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "run-winner", inv.RunID)
	assert.Zero(t, repo.inserted)
}

func TestService_Invoke_SupersedeRaceReturnsWinner(t *testing.T) {
	client := &fakeClient{runID: "run-loser"}
	repo := newMemRepository()
	// This worker's lookup sees the old Failed record, but a concurrent
	// worker supersedes it before the conditional replace lands.
	repo.lookupQueue = []*Invocation{{
		CorrelationID: "corr-1",
		Status:        StatusFailed,
		RunID:         "run-dead",
	}}
	repo.invocations["corr-1"] = &Invocation{
		CorrelationID: "corr-1",
		Status:        StatusRunning,
		RunID:         "run-winner",
	}
	svc := NewService(client, repo, logger.NopLogger())

	inv, err := svc.Invoke(context.Background(), "pl_a", nil, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "run-winner", inv.RunID)
	assert.Equal(t, 1, client.runCalls)
	assert.Zero(t, repo.superseded)
}

func TestService_Invoke_RecordFailurePropagates(t *testing.T) {
	client := &fakeClient{}
	repo := newMemRepository()
	repo.insertErr = errors.New("mongo down")
	svc := NewService(client, repo, logger.NopLogger())

	_, err := svc.Invoke(context.Background(), "pl_a", nil, "corr-1")
	require.Error(t, err)
	assert.Equal(t, 1, client.runCalls)
}

func TestService_Invoke_ClientFailurePropagates(t *testing.T) {
	client := &fakeClient{runErr: pkgerrors.ErrUpstream}
	svc := NewService(client, newMemRepository(), logger.NopLogger())

	_, err := svc.Invoke(context.Background(), "pl_a", nil, "corr-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUpstream(err))
}

func TestService_GetStatus_MirrorsTerminalTransition(t *testing.T) {
	client := &fakeClient{status: StatusSucceeded}
	repo := newMemRepository()
	repo.invocations["corr-1"] = &Invocation{
		CorrelationID: "corr-1",
		Status:        StatusRunning,
		RunID:         "run-1",
	}
	svc := NewService(client, repo, logger.NopLogger())

	status, err := svc.GetStatus(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)

	stored := repo.invocations["corr-1"]
	assert.Equal(t, StatusSucceeded, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestService_GetStatus_TerminalRecordSkipsProbe(t *testing.T) {
	client := &fakeClient{}
	repo := newMemRepository()
	repo.invocations["corr-1"] = &Invocation{
		CorrelationID: "corr-1",
		Status:        StatusSucceeded,
		RunID:         "run-1",
	}
	svc := NewService(client, repo, logger.NopLogger())

	status, err := svc.GetStatus(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
	assert.Zero(t, client.statusCalls)
}
