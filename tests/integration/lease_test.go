package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/lease"
	pkgerrors "relay/pkg/errors"
)

func TestLeaseManager_MutualExclusion(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)

	ctx := context.Background()
	m := lease.NewManager(infra.RedisClient, createTestLogger())

	token, err := m.Acquire(ctx, "daily-run", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, token)

	_, err = m.Acquire(ctx, "daily-run", time.Minute)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsLeaseHeld(err))

	// A different resource is unaffected.
	other, err := m.Acquire(ctx, "weekly-run", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, other))

	require.NoError(t, m.Release(ctx, token))

	_, err = m.Acquire(ctx, "daily-run", time.Minute)
	require.NoError(t, err)
}

func TestLeaseManager_ExpiryFreesLease(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)

	ctx := context.Background()
	m := lease.NewManager(infra.RedisClient, createTestLogger())

	_, err := m.Acquire(ctx, "short-run", time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		token, err := m.Acquire(ctx, "short-run", time.Minute)
		if err != nil {
			return false
		}
		m.Release(ctx, token)
		return true
	}, 5*time.Second, 100*time.Millisecond)
}

func TestLeaseManager_RenewKeepsOwnership(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)

	ctx := context.Background()
	m := lease.NewManager(infra.RedisClient, createTestLogger())

	token, err := m.Acquire(ctx, "renewed-run", time.Second)
	require.NoError(t, err)

	require.NoError(t, m.Renew(ctx, token, time.Minute))

	_, err = m.Acquire(ctx, "renewed-run", time.Minute)
	assert.True(t, pkgerrors.IsLeaseHeld(err))
}

func TestLeaseManager_RenewAfterLossFails(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)

	ctx := context.Background()
	m := lease.NewManager(infra.RedisClient, createTestLogger())

	token, err := m.Acquire(ctx, "lost-run", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, token))

	// Someone else takes it over.
	_, err = m.Acquire(ctx, "lost-run", time.Minute)
	require.NoError(t, err)

	err = m.Renew(ctx, token, time.Minute)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrLeaseLost))
}

func TestLeaseManager_ReleaseIsIdempotent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)

	ctx := context.Background()
	m := lease.NewManager(infra.RedisClient, createTestLogger())

	token, err := m.Acquire(ctx, "idem-run", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, token))
	require.NoError(t, m.Release(ctx, token))
	require.NoError(t, m.Release(ctx, nil))
}
