package config

import (
	"fmt"
	"time"

	"abuseflow/internal/constants"
)

// ValidateStatic checks the parts of the configuration that must be sane
// before the service starts and fills in defaults for optional knobs.
func ValidateStatic(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", cfg.Server.Port)
	}

	if cfg.Mailbox.Host == "" {
		return fmt.Errorf("mailbox.host is required")
	}
	if cfg.Mailbox.Port == 0 {
		cfg.Mailbox.Port = 993
	}
	if cfg.Mailbox.Username == "" || cfg.Mailbox.Password == "" {
		return fmt.Errorf("mailbox credentials are required")
	}
	if cfg.Mailbox.Folder == "" {
		cfg.Mailbox.Folder = "INBOX"
	}
	if len(cfg.Mailbox.AllowedSenders) == 0 {
		return fmt.Errorf("mailbox.allowed_senders must list at least one sender")
	}
	if cfg.Mailbox.PollInterval <= 0 {
		cfg.Mailbox.PollInterval = constants.DefaultPollInterval
	}
	if cfg.Mailbox.FetchTimeout <= 0 {
		cfg.Mailbox.FetchTimeout = 30 * time.Second
	}

	switch cfg.Deduplication.OnRedisError {
	case "":
		cfg.Deduplication.OnRedisError = constants.FallbackDeny
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		return fmt.Errorf("deduplication.on_redis_error must be %q or %q, got %q",
			constants.FallbackAllow, constants.FallbackDeny, cfg.Deduplication.OnRedisError)
	}

	if cfg.Analysis.URL == "" {
		return fmt.Errorf("analysis.url is required")
	}
	if cfg.Analysis.Timeout <= 0 {
		cfg.Analysis.Timeout = constants.DefaultHTTPTimeout
	}
	if cfg.Analysis.RateLimit <= 0 {
		cfg.Analysis.RateLimit = 1
	}
	if cfg.Analysis.RateBurst <= 0 {
		cfg.Analysis.RateBurst = 1
	}

	if cfg.Notifications.Messaging.Enabled {
		if len(cfg.Notifications.Messaging.Brokers) == 0 {
			return fmt.Errorf("notifications.messaging.brokers is required when the messaging channel is enabled")
		}
		if cfg.Notifications.Messaging.Topic == "" {
			return fmt.Errorf("notifications.messaging.topic is required when the messaging channel is enabled")
		}
	}
	if cfg.Notifications.SendTimeout <= 0 {
		cfg.Notifications.SendTimeout = constants.DefaultChannelTimeout
	}
	if cfg.Notifications.MaxParallelism <= 0 {
		cfg.Notifications.MaxParallelism = 4
	}

	if cfg.Broadcast.SubscriberBuffer <= 0 {
		cfg.Broadcast.SubscriberBuffer = constants.DefaultSubscriberBuffer
	}

	for _, rc := range []*RetryConfig{&cfg.Mailbox.Retry, &cfg.Analysis.Retry, &cfg.Notifications.Retry} {
		applyRetryDefaults(rc)
	}

	return nil
}

func applyRetryDefaults(rc *RetryConfig) {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialInterval <= 0 {
		rc.InitialInterval = time.Second
	}
	if rc.MaxInterval <= 0 {
		rc.MaxInterval = 30 * time.Second
	}
	if rc.Multiplier <= 0 {
		rc.Multiplier = 2.0
	}
}
