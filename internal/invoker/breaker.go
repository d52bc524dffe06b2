package invoker

import (
	"context"

	"github.com/sony/gobreaker"

	"relay/internal/config"
	"relay/pkg/circuitbreaker"
)

// CircuitBreakerClient shields the dispatcher from a flapping pipeline
// API. An open breaker fails fast with the breaker error, which the retry
// layer treats as transient.
type CircuitBreakerClient struct {
	inner Client
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerClient(inner Client, cfg config.CircuitBreakerConfig) *CircuitBreakerClient {
	cbConfig := circuitbreaker.Config{
		Name:        "pipeline-api",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
	}

	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		minRequests := cfg.MinRequests
		failureRatio := cfg.FailureRatio
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		}
	}

	return &CircuitBreakerClient{
		inner: inner,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (c *CircuitBreakerClient) Run(ctx context.Context, pipelineName string, parameters map[string]interface{}) (string, error) {
	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.inner.Run(ctx, pipelineName, parameters)
	})
	c.cb.RecordRequest(err == nil)
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *CircuitBreakerClient) GetStatus(ctx context.Context, runID string) (Status, error) {
	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.inner.GetStatus(ctx, runID)
	})
	c.cb.RecordRequest(err == nil)
	if err != nil {
		return "", err
	}
	return result.(Status), nil
}
