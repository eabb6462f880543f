package config

import "abuseflow/pkg/retry"

// Policy converts the config block into an executable retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		MaxElapsedTime:  c.MaxElapsedTime,
	}
}
