package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relay/internal/constants"
	"relay/internal/logger"
	pkgerrors "relay/pkg/errors"
	"relay/pkg/metrics"
)

// Token proves ownership of a lease. Renew and Release only act when the
// stored owner value still matches, so a token that outlived its lease is
// harmless.
type Token struct {
	ResourceID string
	value      string
}

// renewScript extends the lease only for the current owner.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only for the current owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Manager is the distributed mutual-exclusion primitive for scheduled
// runs. At most one non-expired lease exists per resource id; the bounded
// duration is the safety net against a crashed holder.
type Manager struct {
	client *redis.Client
	logger logger.Logger
}

func NewManager(client *redis.Client, log logger.Logger) *Manager {
	return &Manager{
		client: client,
		logger: log,
	}
}

// Acquire takes the lease for resourceID or fails with LeaseHeld when
// another owner holds it.
func (m *Manager) Acquire(ctx context.Context, resourceID string, duration time.Duration) (*Token, error) {
	value := uuid.New().String()

	acquired, err := m.client.SetNX(ctx, constants.CacheKeyPrefixLease+resourceID, value, duration).Result()
	if err != nil {
		return nil, fmt.Errorf("lease acquire for %s: %w", resourceID, err)
	}

	if !acquired {
		metrics.LeaseAcquisitionsTotal.WithLabelValues(resourceID, "held").Inc()
		return nil, pkgerrors.ErrLeaseHeld.WithDetail("message", fmt.Sprintf("lease for %s held by another owner", resourceID))
	}

	metrics.LeaseAcquisitionsTotal.WithLabelValues(resourceID, "acquired").Inc()
	return &Token{ResourceID: resourceID, value: value}, nil
}

// Renew extends the lease; LeaseLost means it expired or was taken over.
func (m *Manager) Renew(ctx context.Context, token *Token, duration time.Duration) error {
	ok, err := renewScript.Run(ctx, m.client,
		[]string{constants.CacheKeyPrefixLease + token.ResourceID},
		token.value, duration.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("lease renew for %s: %w", token.ResourceID, err)
	}

	if ok == 0 {
		return pkgerrors.ErrLeaseLost.WithDetail("message", fmt.Sprintf("lease for %s no longer owned", token.ResourceID))
	}

	return nil
}

// Release gives the lease up. Releasing an expired or foreign lease is a
// no-op, not an error.
func (m *Manager) Release(ctx context.Context, token *Token) error {
	if token == nil {
		return nil
	}

	_, err := releaseScript.Run(ctx, m.client,
		[]string{constants.CacheKeyPrefixLease + token.ResourceID},
		token.value,
	).Int()
	if err != nil {
		return fmt.Errorf("lease release for %s: %w", token.ResourceID, err)
	}

	return nil
}
