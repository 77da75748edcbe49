package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// Tenant mapping sources, all optional.
	TenantConfigJSON   string
	TenantConfigFile   string
	TenantConfigSecret string
	EncryptionKey      string
	AWSRegion          string

	// State store paths; empty keeps a store in memory only.
	MetricsFile     string
	TokensFile      string
	AdminConfigFile string

	// Gateway auth.
	ProxyAuthRequired    bool
	DevDefaultLogicalKey string

	// Streaming: "incremental" or "buffered".
	StreamMode string

	// Optional collaborators.
	RedisURL      string
	RateLimitRPM  int
	DatabaseURL   string
	UsageQueueURL string
	SNSTopicArn   string
	OTLPEndpoint  string

	// Admin surface.
	AdminUsername        string
	AdminPassword        string
	AdminPasswordHash    string
	AdminAllowReset      bool
	AdminAllowConfigEdit bool
	AdminAllowUserMgmt   bool

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TenantConfigJSON:   getEnv("TENANT_CONFIG_JSON", ""),
		TenantConfigFile:   getEnv("TENANT_CONFIG_FILE", ""),
		TenantConfigSecret: getEnv("TENANT_CONFIG_SECRET", ""),
		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		AWSRegion:          getEnv("AWS_REGION", ""),

		MetricsFile:     getEnv("METRICS_FILE", ""),
		TokensFile:      getEnv("PROXY_TOKENS_FILE", ""),
		AdminConfigFile: getEnv("ADMIN_CONFIG_FILE", ""),

		ProxyAuthRequired:    getBoolEnv("PROXY_AUTH_REQUIRED", false),
		DevDefaultLogicalKey: getEnv("DEV_DEFAULT_LOGICAL_API_KEY", ""),

		StreamMode: getEnv("STREAM_MODE", "incremental"),

		RedisURL:      getEnv("REDIS_URL", ""),
		RateLimitRPM:  getIntEnv("RATE_LIMIT_RPM", 0),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		UsageQueueURL: getEnv("USAGE_QUEUE_URL", ""),
		SNSTopicArn:   getEnv("SNS_TOPIC_ARN", ""),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", ""),

		AdminUsername:        getEnv("ADMIN_USERNAME", ""),
		AdminPassword:        getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash:    getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminAllowReset:      getBoolEnv("ADMIN_ALLOW_RESET", true),
		AdminAllowConfigEdit: getBoolEnv("ADMIN_ALLOW_CONFIG_EDIT", true),
		AdminAllowUserMgmt:   getBoolEnv("ADMIN_ALLOW_USER_MGMT", true),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
