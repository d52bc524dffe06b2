package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/logger"
	pkgerrors "relay/pkg/errors"
)

type memRepo struct {
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newMemRepo() *memRepo {
	return &memRepo{
		values: map[string][]byte{},
		ttls:   map[string]time.Duration{},
	}
}

func (r *memRepo) Exists(_ context.Context, key string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.values[key]
	return ok, nil
}

func (r *memRepo) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.values[key]; ok {
		return false, nil
	}
	r.values[key] = value.([]byte)
	r.ttls[key] = ttl
	return true, nil
}

func TestService_HasProcessed(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, config.DedupConfig{}, logger.NopLogger())
	ctx := context.Background()

	processed, err := svc.HasProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, svc.MarkProcessed(ctx, "msg-1", "corr-1"))

	processed, err = svc.HasProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestService_MarkProcessed_KeyPrefixAndTTL(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, config.DedupConfig{TTLSeconds: 3600}, logger.NopLogger())

	require.NoError(t, svc.MarkProcessed(context.Background(), "msg-1", "corr-1"))

	require.Contains(t, repo.values, "dedup:msg-1")
	assert.Equal(t, time.Hour, repo.ttls["dedup:msg-1"])
}

func TestService_MarkProcessed_RaceLoserGetsConflict(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, config.DedupConfig{}, logger.NopLogger())
	ctx := context.Background()

	require.NoError(t, svc.MarkProcessed(ctx, "msg-1", "corr-a"))

	err := svc.MarkProcessed(ctx, "msg-1", "corr-b")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestService_RepositoryErrorsPropagate(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("redis down")
	svc := NewService(repo, config.DedupConfig{}, logger.NopLogger())
	ctx := context.Background()

	_, err := svc.HasProcessed(ctx, "msg-1")
	require.Error(t, err)

	err = svc.MarkProcessed(ctx, "msg-1", "corr-1")
	require.Error(t, err)
	assert.False(t, pkgerrors.IsConflict(err))
}
