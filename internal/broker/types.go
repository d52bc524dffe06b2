package broker

import (
	"context"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc receives the raw message value. A nil return commits the
// message; an error leaves it uncommitted for redelivery. Decoding and
// retry/dead-letter policy live with the handler, not the transport.
type HandlerFunc func(ctx context.Context, raw []byte) error
