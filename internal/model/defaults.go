package model

import "time"

// Defaults mirror the constants the feed historically ran with.
const (
	DefaultBucket           = "my12data"
	DefaultObjectKey        = "logs.json"
	DefaultBroker           = "16.52.119.70:9092"
	DefaultTopic            = "ingestion-logs"
	DefaultPublishTimeout   = 10 * time.Second
	DefaultThrottleInterval = 100 * time.Millisecond
	DefaultConcurrency      = 1
	DefaultMaxLineSize      = 1024 * 1024 // 1MB
)
