package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Tenancy    TenancyConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Audit      AuditConfig
	Simulation SimulationConfig
	Watcher    WatcherConfig
	API        APIConfig
	Tracing    TracingConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// TenancyConfig contains tenant resolution configuration
type TenancyConfig struct {
	// Header carrying the caller-supplied tenant identifier.
	Header string
	// Required rejects requests without a tenant header instead of
	// falling back to the default tenant.
	Required bool
	// DataRoot is the root directory under which each tenant's storage
	// lives, keyed by derived tenant key.
	DataRoot string
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	// Token is the single shared secret for this deployment.
	Token string
	// TokenHeader is the dedicated token header checked when no
	// bearer Authorization header is present.
	TokenHeader  string
	RequireRead  bool
	RequireWrite bool
}

// RateLimitConfig contains sliding-window rate limiting configuration
type RateLimitConfig struct {
	Enabled       bool
	Window        time.Duration
	ReadLimit     int
	WriteLimit    int
	SweepInterval time.Duration
}

// AuditConfig contains audit sink configuration
type AuditConfig struct {
	Enabled  bool
	Sink     string // "stdout" or "file"
	FilePath string
}

// SimulationConfig contains simulation supervisor configuration
type SimulationConfig struct {
	// WorkerExec is the executable used to run simulation workers.
	WorkerExec string
	// WorkerScript is the worker entrypoint passed as the first argument.
	WorkerScript string
	// ProjectRoot is the working directory for spawned workers.
	ProjectRoot string
	// AllowedEnvKeys is the allow-list for caller-supplied environment
	// variable overrides.
	AllowedEnvKeys []string
}

// WatcherConfig contains telemetry file watcher configuration
type WatcherConfig struct {
	Enabled  bool
	Interval time.Duration
}

// APIConfig contains miscellaneous API behavior configuration
type APIConfig struct {
	// TerminalLogMaxBytes caps the bytes returned for terminal log reads.
	TerminalLogMaxBytes int
	// CORSOrigins is the comma-joined list of allowed origins.
	CORSOrigins string
	// TaskValuesPath points at the optional task market-value JSONL.
	TaskValuesPath string
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host: getEnvString("LIVEBENCH_HOST", ""),
			Port: getEnvInt("LIVEBENCH_PORT", 8000),
		},
		Log: LogConfig{
			Level:  getEnvString("LIVEBENCH_LOG_LEVEL", "info"),
			Format: getEnvString("LIVEBENCH_LOG_FORMAT", "text"),
		},
		Tenancy: TenancyConfig{
			Header:   getEnvString("LIVEBENCH_TENANT_HEADER", "X-Tenant-ID"),
			Required: getEnvBool("LIVEBENCH_TENANT_REQUIRED", false),
			DataRoot: getEnvString("LIVEBENCH_DATA_ROOT", "./data"),
		},
		Auth: AuthConfig{
			Token:        getEnvString("LIVEBENCH_AUTH_TOKEN", ""),
			TokenHeader:  getEnvString("LIVEBENCH_AUTH_TOKEN_HEADER", "X-API-Token"),
			RequireRead:  getEnvBool("LIVEBENCH_AUTH_REQUIRE_READ", false),
			RequireWrite: getEnvBool("LIVEBENCH_AUTH_REQUIRE_WRITE", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("LIVEBENCH_RATE_LIMIT_ENABLED", true),
			Window:        getEnvDuration("LIVEBENCH_RATE_LIMIT_WINDOW", 60*time.Second),
			ReadLimit:     getEnvInt("LIVEBENCH_RATE_LIMIT_READ", 120),
			WriteLimit:    getEnvInt("LIVEBENCH_RATE_LIMIT_WRITE", 20),
			SweepInterval: getEnvDuration("LIVEBENCH_RATE_LIMIT_SWEEP", 5*time.Minute),
		},
		Audit: AuditConfig{
			Enabled:  getEnvBool("LIVEBENCH_AUDIT_ENABLED", true),
			Sink:     getEnvString("LIVEBENCH_AUDIT_SINK", "stdout"),
			FilePath: getEnvString("LIVEBENCH_AUDIT_FILE", ""),
		},
		Simulation: SimulationConfig{
			WorkerExec:   getEnvString("LIVEBENCH_WORKER_EXEC", "python3"),
			WorkerScript: getEnvString("LIVEBENCH_WORKER_SCRIPT", "livebench/main.py"),
			ProjectRoot:  getEnvString("LIVEBENCH_PROJECT_ROOT", "."),
			AllowedEnvKeys: getEnvStringSlice("LIVEBENCH_ALLOWED_ENV_KEYS", []string{
				"OPENAI_API_KEY",
				"ANTHROPIC_API_KEY",
				"OPENROUTER_API_KEY",
				"LIVEBENCH_MODEL",
				"LIVEBENCH_SEED",
			}),
		},
		Watcher: WatcherConfig{
			Enabled:  getEnvBool("LIVEBENCH_WATCH_ENABLED", true),
			Interval: getEnvDuration("LIVEBENCH_WATCH_INTERVAL", time.Second),
		},
		API: APIConfig{
			TerminalLogMaxBytes: getEnvInt("LIVEBENCH_TERMINAL_LOG_MAX_BYTES", 1<<20),
			CORSOrigins:         getEnvString("LIVEBENCH_CORS_ORIGINS", "*"),
			TaskValuesPath:      getEnvString("LIVEBENCH_TASK_VALUES_PATH", ""),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("LIVEBENCH_TRACING_ENABLED", false),
			Endpoint:       getEnvString("LIVEBENCH_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("LIVEBENCH_TRACING_SERVICE_NAME", "livebench-api"),
			ServiceVersion: getEnvString("LIVEBENCH_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("LIVEBENCH_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("LIVEBENCH_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("LIVEBENCH_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	// A deployment that requires auth must carry a secret. Refusing to
	// start beats silently accepting every token.
	if (c.Auth.RequireRead || c.Auth.RequireWrite) && c.Auth.Token == "" {
		return fmt.Errorf("auth is required but LIVEBENCH_AUTH_TOKEN is not set")
	}

	if c.Tenancy.Header == "" {
		return fmt.Errorf("tenant header name cannot be empty")
	}
	if c.Tenancy.DataRoot == "" {
		return fmt.Errorf("data root cannot be empty")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("invalid rate limit window: %v (must be positive)", c.RateLimit.Window)
		}
		if c.RateLimit.ReadLimit <= 0 || c.RateLimit.WriteLimit <= 0 {
			return fmt.Errorf("rate limits must be positive (read=%d, write=%d)",
				c.RateLimit.ReadLimit, c.RateLimit.WriteLimit)
		}
	}

	if c.Audit.Enabled && c.Audit.Sink == "file" && c.Audit.FilePath == "" {
		return fmt.Errorf("audit sink is file but LIVEBENCH_AUDIT_FILE is not set")
	}

	if c.Simulation.WorkerExec == "" {
		return fmt.Errorf("worker executable cannot be empty")
	}

	if c.Watcher.Enabled && c.Watcher.Interval <= 0 {
		return fmt.Errorf("invalid watch interval: %v (must be positive)", c.Watcher.Interval)
	}

	return nil
}

// Address returns the server listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
