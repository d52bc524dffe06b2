package models

import "time"

// InboundEvent is the decoded form of every message entering the
// dispatcher, whether it arrived from the queue, the on-demand trigger or
// a blob-event webhook. ID doubles as the idempotency key for the whole
// dispatch.
type InboundEvent struct {
	ID               string                 `json:"id"`
	ExplicitPipeline string                 `json:"explicitPipeline,omitempty"`
	Source           string                 `json:"source,omitempty"`
	EventType        string                 `json:"eventType,omitempty"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	ReceivedAt       time.Time              `json:"receivedAt"`
}
