// Package config loads the master configuration and keeps the runtime
// encoder registry.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/models"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file
const (
	EnvWebhookSecret = "PIPELINE_WEBHOOK_SECRET"
	EnvAdminSecret   = "PIPELINE_ADMIN_SECRET"
)

// LoadMasterConfig reads and parses the master configuration file, applies
// defaults and environment overrides, and validates the result.
func LoadMasterConfig(path string) (*models.MasterConfig, error) {
	// #nosec G304 - path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML config data and applies defaults and env overrides.
func Parse(data []byte) (*models.MasterConfig, error) {
	var cfg models.MasterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults
func ApplyDefaults(cfg *models.MasterConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = constants.DefaultServerPort
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = constants.DefaultRateLimit
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = constants.DriverSQLite
	}
	if cfg.Database.Path == "" && cfg.Database.Driver != constants.DriverMongo {
		cfg.Database.Path = "./pipeline.db"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "video_pipeline"
	}
	if cfg.Dispatcher.PollInterval == 0 {
		cfg.Dispatcher.PollInterval = constants.DefaultPollInterval
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = constants.DefaultBatchSize
	}
	if cfg.Dispatcher.RequestTimeout == 0 {
		cfg.Dispatcher.RequestTimeout = constants.DefaultRequestTimeout
	}
	if cfg.Storage.PinTimeout == 0 {
		cfg.Storage.PinTimeout = constants.DefaultPinTimeout
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = constants.DefaultNATSSubject
	}
	if cfg.Events.Durable == "" {
		cfg.Events.Durable = constants.DefaultNATSDurable
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = constants.LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = constants.LogFormatText
	}
}

func applyEnv(cfg *models.MasterConfig) {
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv(EnvAdminSecret); v != "" {
		cfg.Server.AdminSecret = v
	}
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return "invalid config: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors", len(e.Errors))
}

// Validate checks a defaulted configuration for values the service cannot
// start with.
func Validate(cfg *models.MasterConfig) error {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535")
	}
	if cfg.Server.AdminSecret != "" && len(cfg.Server.AdminSecret) < 32 {
		add("server.admin_secret", "must be at least 32 bytes for HS256")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "must not be negative")
	}

	switch cfg.Database.Driver {
	case constants.DriverSQLite, constants.DriverPebble:
		if cfg.Database.Path == "" {
			add("database.path", "is required for driver "+cfg.Database.Driver)
		}
	case constants.DriverMongo:
		if cfg.Database.URI == "" {
			add("database.uri", "is required for driver mongo")
		}
	default:
		add("database.driver", "must be one of: sqlite, mongo, pebble")
	}

	if cfg.Dispatcher.PollInterval < 0 {
		add("dispatcher.poll_interval", "must be positive")
	}
	if cfg.Dispatcher.BatchSize < 1 {
		add("dispatcher.batch_size", "must be at least 1")
	}
	if cfg.Dispatcher.RequestTimeout < 0 {
		add("dispatcher.request_timeout", "must be positive")
	}

	seen := make(map[string]bool, len(cfg.Encoders))
	for i, enc := range cfg.Encoders {
		field := fmt.Sprintf("encoders[%d]", i)
		if enc.Name == "" {
			add(field+".name", "is required")
		} else if seen[enc.Name] {
			add(field+".name", "duplicate encoder name "+enc.Name)
		}
		seen[enc.Name] = true
		if !isHTTPURL(enc.URL) {
			add(field+".url", "must be an absolute http(s) URL")
		}
	}

	if cfg.Webhook.Secret == "" {
		add("webhook.secret", "is required")
	}
	if !isHTTPURL(cfg.Webhook.PublicURL) {
		add("webhook.public_url", "must be an absolute http(s) URL")
	}

	if cfg.Storage.GatewayURL == "" {
		add("storage.gateway_url", "is required")
	}
	if cfg.Storage.Primary.Type == "" {
		add("storage.primary.type", "is required")
	} else {
		validatePinEndpoint("storage.primary", cfg.Storage.Primary, add)
	}
	if cfg.Storage.Fallback.Type != "" {
		validatePinEndpoint("storage.fallback", cfg.Storage.Fallback, add)
	}

	switch cfg.Logging.Level {
	case constants.LogLevelDebug, constants.LogLevelInfo, constants.LogLevelWarn, constants.LogLevelError:
	default:
		add("logging.level", "must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case constants.LogFormatJSON, constants.LogFormatText:
	default:
		add("logging.format", "must be one of: json, text")
	}

	if len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

func validatePinEndpoint(field string, ep models.PinEndpoint, add func(string, string)) {
	switch ep.Type {
	case constants.PinBackendIPFS:
		if !isHTTPURL(ep.URL) {
			add(field+".url", "must be an absolute http(s) URL")
		}
	case constants.PinBackendS3, constants.PinBackendGCS:
		if ep.Options["bucket"] == "" {
			add(field+".options.bucket", "is required for "+ep.Type)
		}
	case constants.PinBackendSFTP:
		if ep.URL == "" {
			add(field+".url", "is required for sftp (host:port)")
		}
		if ep.Options["user"] == "" {
			add(field+".options.user", "is required for sftp")
		}
	default:
		add(field+".type", "must be one of: ipfs, s3, gcs, sftp")
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
