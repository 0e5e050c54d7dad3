package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var projectIDPattern = regexp.MustCompile(`^[a-z][-a-z0-9]{4,28}[a-z0-9]$`)

// AuthMethod narrows the credential source chain to a single source.
type AuthMethod string

const (
	AuthAuto           AuthMethod = "auto"
	AuthServiceAccount AuthMethod = "service_account"
	AuthUserLogin      AuthMethod = "user_login"
	AuthAmbient        AuthMethod = "ambient"
)

type Config struct {
	ProjectID          string `yaml:"project_id"`
	Region             string `yaml:"region"`
	ModelID            string `yaml:"model"`
	ModelVersion       string `yaml:"model_version"`
	AuthMethod         AuthMethod `yaml:"auth_method"`
	ServiceAccountPath string `yaml:"service_account_path"`

	MaxRetries     int           `yaml:"max_retries"`
	InitialWait    time.Duration `yaml:"-"`
	MaxWait        time.Duration `yaml:"-"`
	BackoffBase    float64       `yaml:"backoff_base"`
	RequestTimeout time.Duration `yaml:"-"`

	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitRecoveryTimeout  time.Duration `yaml:"-"`

	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	RedisURL     string `yaml:"redis_url"`
	DatabaseURL  string `yaml:"database_url"`

	// Raw second counts from the YAML file; Load folds them into the
	// duration fields above.
	InitialWaitSeconds            int `yaml:"initial_wait_seconds"`
	MaxWaitSeconds                int `yaml:"max_wait_seconds"`
	RequestTimeoutSeconds         int `yaml:"request_timeout_seconds"`
	CircuitRecoveryTimeoutSeconds int `yaml:"circuit_recovery_timeout_seconds"`
}

// Default returns the configuration baseline before file and env overlays.
func Default() *Config {
	return &Config{
		AuthMethod:              AuthAuto,
		MaxRetries:              3,
		InitialWait:             1 * time.Second,
		MaxWait:                 60 * time.Second,
		BackoffBase:             2.0,
		RequestTimeout:          60 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitRecoveryTimeout:  60 * time.Second,
		LogLevel:                "info",
	}
}

// Load builds the configuration from an optional YAML file overlaid by
// environment variables. Environment always wins.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		cfg.foldSeconds()
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) foldSeconds() {
	if c.InitialWaitSeconds > 0 {
		c.InitialWait = time.Duration(c.InitialWaitSeconds) * time.Second
	}
	if c.MaxWaitSeconds > 0 {
		c.MaxWait = time.Duration(c.MaxWaitSeconds) * time.Second
	}
	if c.RequestTimeoutSeconds > 0 {
		c.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	}
	if c.CircuitRecoveryTimeoutSeconds > 0 {
		c.CircuitRecoveryTimeout = time.Duration(c.CircuitRecoveryTimeoutSeconds) * time.Second
	}
}

func (c *Config) applyEnv() {
	c.ProjectID = getEnv("VERTEX_PROJECT_ID", c.ProjectID)
	c.Region = getEnv("VERTEX_REGION", c.Region)
	c.ModelID = getEnv("VERTEX_MODEL", c.ModelID)
	c.ModelVersion = getEnv("VERTEX_MODEL_VERSION", c.ModelVersion)
	c.AuthMethod = AuthMethod(getEnv("VERTEX_AUTH_METHOD", string(c.AuthMethod)))
	c.ServiceAccountPath = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.ServiceAccountPath)
	c.MaxRetries = getIntEnv("VERTEX_MAX_RETRIES", c.MaxRetries)
	c.InitialWait = getDurationEnv("VERTEX_INITIAL_WAIT_SECONDS", c.InitialWait)
	c.MaxWait = getDurationEnv("VERTEX_MAX_WAIT_SECONDS", c.MaxWait)
	c.BackoffBase = getFloatEnv("VERTEX_BACKOFF_BASE", c.BackoffBase)
	c.RequestTimeout = getDurationEnv("VERTEX_REQUEST_TIMEOUT_SECONDS", c.RequestTimeout)
	c.CircuitFailureThreshold = getIntEnv("VERTEX_CIRCUIT_FAILURE_THRESHOLD", c.CircuitFailureThreshold)
	c.CircuitRecoveryTimeout = getDurationEnv("VERTEX_CIRCUIT_RECOVERY_SECONDS", c.CircuitRecoveryTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
}

func (c *Config) Validate() error {
	if c.ProjectID != "" && !projectIDPattern.MatchString(c.ProjectID) {
		return fmt.Errorf("invalid project id %q: must match %s", c.ProjectID, projectIDPattern.String())
	}
	switch c.AuthMethod {
	case AuthAuto, AuthServiceAccount, AuthUserLogin, AuthAmbient:
	default:
		return fmt.Errorf("invalid auth_method %q", c.AuthMethod)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10, got %d", c.MaxRetries)
	}
	if c.BackoffBase <= 1 {
		return fmt.Errorf("backoff_base must be greater than 1, got %v", c.BackoffBase)
	}
	if c.InitialWait <= 0 || c.MaxWait < c.InitialWait {
		return fmt.Errorf("wait bounds invalid: initial=%s max=%s", c.InitialWait, c.MaxWait)
	}
	if c.CircuitFailureThreshold <= 0 {
		return fmt.Errorf("circuit_failure_threshold must be positive, got %d", c.CircuitFailureThreshold)
	}
	if c.CircuitRecoveryTimeout <= 0 {
		return fmt.Errorf("circuit recovery timeout must be positive, got %s", c.CircuitRecoveryTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
