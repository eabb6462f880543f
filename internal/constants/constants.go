package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DedupKeyPrefix = "dedup:msg:"
)

const (
	DefaultPollInterval     = 60 * time.Second
	DefaultChannelTimeout   = 15 * time.Second
	DefaultSubscriberBuffer = 64
	DefaultTTLSeconds       = 0 // no expiry: a seen message stays seen
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	ChannelRealtime  = "realtime"
	ChannelMessaging = "messaging"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
