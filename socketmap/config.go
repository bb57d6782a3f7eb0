package socketmap

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the embedder's own environment-variable driven configuration.
// It is distinct from sfnet.Config, which cmd/sfnetd constructs separately
// for the framework's own listener/pool/threading tunables.
type Config struct {
	UserliToken               string
	UserliBaseURL             string
	PostfixRecipientDelimiter string

	OuterListenAddr   string // socketmap
	InnerListenAddr   string // policy delegation
	MetricsListenAddr string

	QuotaRedisAddr string // empty disables the shared Redis quota cache

	DenyListPath string // empty disables sender deny-listing

	UserliTimeout time.Duration
}

// NewConfig reads the embedder's configuration from the environment,
// applying defaults and required-field checks.
func NewConfig() (*Config, error) {
	userliToken := os.Getenv("USERLI_TOKEN")
	if userliToken == "" {
		return nil, fmt.Errorf("USERLI_TOKEN is required")
	}

	cfg := &Config{
		UserliToken:               userliToken,
		UserliBaseURL:             getEnvDefault("USERLI_BASE_URL", "http://localhost:8000"),
		PostfixRecipientDelimiter: os.Getenv("POSTFIX_RECIPIENT_DELIMITER"),
		OuterListenAddr:           getEnvDefault("SOCKETMAP_LISTEN_ADDR", ":10001"),
		InnerListenAddr:           getEnvDefault("POLICY_LISTEN_ADDR", ":10003"),
		MetricsListenAddr:         getEnvDefault("METRICS_LISTEN_ADDR", ":10002"),
		QuotaRedisAddr:            os.Getenv("SFNET_QUOTA_REDIS_ADDR"),
		DenyListPath:              os.Getenv("SFNET_DENYLIST_PATH"),
		UserliTimeout:             10 * time.Second,
	}

	if v := os.Getenv("USERLI_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid USERLI_TIMEOUT_SECONDS: %w", err)
		}
		cfg.UserliTimeout = time.Duration(secs) * time.Second
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
