package routing

import (
	"context"
	"sync/atomic"
	"time"

	"relay/internal/logger"
	"relay/pkg/metrics"
)

// Provider owns the active routing Table and refreshes it from the
// routing document on an interval. Snapshot reads are a single atomic
// pointer load, so in-flight Route calls never observe a half-applied
// reload.
type Provider struct {
	path     string
	interval time.Duration
	logger   logger.Logger
	table    atomic.Pointer[Table]
}

func NewProvider(path string, interval time.Duration, log logger.Logger) (*Provider, error) {
	table, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		path:     path,
		interval: interval,
		logger:   log,
	}
	p.table.Store(table)
	metrics.RoutingRulesActive.Set(float64(len(table.Rules)))

	return p, nil
}

// Snapshot returns the current table. The returned value is immutable.
func (p *Provider) Snapshot() *Table {
	return p.table.Load()
}

// Run reloads the document periodically until ctx is cancelled. A failed
// reload keeps the previous snapshot; the dispatcher never routes against
// a partial or absent config.
func (p *Provider) Run(ctx context.Context) error {
	if p.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			table, err := LoadFile(p.path)
			if err != nil {
				p.logger.WarnwCtx(ctx, "Routing config reload failed, keeping previous snapshot",
					"error", err,
					"path", p.path,
				)
				continue
			}
			p.table.Store(table)
			metrics.RoutingRulesActive.Set(float64(len(table.Rules)))
			p.logger.InfowCtx(ctx, "Routing config reloaded",
				"rules", len(table.Rules),
				"default_pipeline", table.DefaultPipeline,
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
