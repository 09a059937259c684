package models

import "time"

// LoggingSettings defines logging configuration
type LoggingSettings struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PinEndpoint configures one storage pinning backend. Options carries
// backend specific settings (bucket, region, credentials, ...).
type PinEndpoint struct {
	Type    string            `yaml:"type"` // ipfs, s3, gcs, sftp
	URL     string            `yaml:"url"`
	Options map[string]string `yaml:"options"`
}

// MasterConfig holds the configuration for the pipeline master service.
type MasterConfig struct {
	Server struct {
		Port               int    `yaml:"port"`
		Host               string `yaml:"host"`
		AdminSecret        string `yaml:"admin_secret"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"` // sqlite, mongo, pebble
		Path   string `yaml:"path"`
		URI    string `yaml:"uri"`
		Name   string `yaml:"name"`
	} `yaml:"database"`

	Dispatcher struct {
		PollInterval     time.Duration `yaml:"poll_interval"`
		BatchSize        int           `yaml:"batch_size"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		EncoderStatePath string        `yaml:"encoder_state_path"`
	} `yaml:"dispatcher"`

	Encoders []Encoder `yaml:"encoders"`

	Webhook struct {
		PublicURL string `yaml:"public_url"`
		Secret    string `yaml:"secret"`
	} `yaml:"webhook"`

	Storage struct {
		GatewayURL string        `yaml:"gateway_url"`
		UploadDir  string        `yaml:"upload_dir"` // completed uploads must live under this dir when set
		PinTimeout time.Duration `yaml:"pin_timeout"`
		Primary    PinEndpoint   `yaml:"primary"`
		Fallback   PinEndpoint   `yaml:"fallback"`
	} `yaml:"storage"`

	Events struct {
		NATSURL string `yaml:"nats_url"`
		Subject string `yaml:"subject"`
		Durable string `yaml:"durable"`
	} `yaml:"events"`

	Logging LoggingSettings `yaml:"logging"`
}
