package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("mailbox.host", "MAILBOX_HOST")
	viper.BindEnv("mailbox.port", "MAILBOX_PORT")
	viper.BindEnv("mailbox.username", "MAILBOX_USERNAME")
	viper.BindEnv("mailbox.password", "MAILBOX_PASSWORD")
	viper.BindEnv("mailbox.folder", "MAILBOX_FOLDER")

	viper.BindEnv("analysis.url", "ANALYSIS_URL")
	viper.BindEnv("analysis.api_key", "ANALYSIS_API_KEY")
	viper.BindEnv("analysis.model", "ANALYSIS_MODEL")

	viper.BindEnv("notifications.messaging.brokers", "NOTIFICATIONS_MESSAGING_BROKERS")
	viper.BindEnv("notifications.messaging.topic", "NOTIFICATIONS_MESSAGING_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("NOTIFICATIONS_MESSAGING_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Notifications.Messaging.Brokers = brokers
		}
	}

	if sendersEnv := viper.GetString("MAILBOX_ALLOWED_SENDERS"); sendersEnv != "" {
		senders := strings.Split(sendersEnv, ",")
		for i := range senders {
			senders[i] = strings.TrimSpace(senders[i])
		}
		if len(senders) > 0 && senders[0] != "" {
			cfg.Mailbox.AllowedSenders = senders
		}
	}

	return nil
}
