package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Optional variables with defaults
	HTTPPort      string
	Host          string
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Chat semantics
	IdleTimeout            time.Duration // 0 disables the idle sweeper
	HistoryReplay          int           // tail length sent on join
	RequirePrivatePassword bool          // reject private rooms without a password

	// HTTP surface
	AllowedOrigins string

	// Tracing (optional)
	OtelCollectorAddr string

	DevelopmentMode bool
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (TCP listen port)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: HTTP_PORT (metrics, health, websocket; defaults to 8080)
	cfg.HTTPPort = getEnvOrDefault("HTTP_PORT", "8080")
	if port, err := strconv.Atoi(cfg.HTTPPort); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("HTTP_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.HTTPPort))
	}

	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	// Optional: IDLE_TIMEOUT_SECONDS (defaults to 300; 0 disables the sweeper)
	idleRaw := getEnvOrDefault("IDLE_TIMEOUT_SECONDS", "300")
	if secs, err := strconv.Atoi(idleRaw); err != nil || secs < 0 {
		errors = append(errors, fmt.Sprintf("IDLE_TIMEOUT_SECONDS must be a non-negative integer (got '%s')", idleRaw))
	} else {
		cfg.IdleTimeout = time.Duration(secs) * time.Second
	}

	// Optional: HISTORY_REPLAY (defaults to 50)
	replayRaw := getEnvOrDefault("HISTORY_REPLAY", "50")
	if n, err := strconv.Atoi(replayRaw); err != nil || n < 0 {
		errors = append(errors, fmt.Sprintf("HISTORY_REPLAY must be a non-negative integer (got '%s')", replayRaw))
	} else {
		cfg.HistoryReplay = n
	}

	cfg.RequirePrivatePassword = os.Getenv("REQUIRE_PRIVATE_PASSWORD") == "true"

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated",
		"port", cfg.Port,
		"http_port", cfg.HTTPPort,
		"idle_timeout", cfg.IdleTimeout.String(),
		"history_replay", cfg.HistoryReplay,
		"require_private_password", cfg.RequirePrivatePassword,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
