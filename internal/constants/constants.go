package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "dedup:"
	CacheKeyPrefixLease = "lease:"
)

const (
	DefaultInputTopic = "dispatch_events"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultMaxAttempts       = 3
	DefaultReplayMaxAttempts = 5
)

const (
	DefaultScheduleInterval   = 24 * time.Hour
	DefaultLeaseDuration      = 120 * time.Second
	DefaultJitterMax          = 30 * time.Second
	DefaultScheduleDateFormat = "2006-01-02"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultPollTimeout  = 30 * time.Minute
)

const (
	RoutePrefixBlob = "blob:"
	RoutePrefixType = "type:"
	RoutePrefixExpr = "cel:"
)
