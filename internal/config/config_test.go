package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/models"
)

const validYAML = `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/pipeline.db
dispatcher:
  poll_interval: 10s
encoders:
  - name: w1
    url: http://w1.local:8080
    credential: secret-1
    enabled: true
  - name: w2
    url: http://w2.local:8080
    enabled: false
webhook:
  public_url: https://pipeline.example.com
  secret: hook-secret
storage:
  gateway_url: https://ipfs.example.com/ipfs/
  primary:
    type: ipfs
    url: http://localhost:5001
  fallback:
    type: s3
    options:
      bucket: uploads
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv(EnvWebhookSecret, "")
	t.Setenv(EnvAdminSecret, "")

	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Dispatcher.PollInterval != 10*time.Second {
		t.Errorf("Expected poll interval 10s, got %v", cfg.Dispatcher.PollInterval)
	}
	if cfg.Dispatcher.BatchSize != constants.DefaultBatchSize {
		t.Errorf("Expected default batch size %d, got %d", constants.DefaultBatchSize, cfg.Dispatcher.BatchSize)
	}
	if cfg.Dispatcher.RequestTimeout != constants.DefaultRequestTimeout {
		t.Errorf("Expected default request timeout, got %v", cfg.Dispatcher.RequestTimeout)
	}
	if cfg.Storage.PinTimeout != constants.DefaultPinTimeout {
		t.Errorf("Expected default pin timeout, got %v", cfg.Storage.PinTimeout)
	}
	if cfg.Events.Subject != constants.DefaultNATSSubject {
		t.Errorf("Expected default subject, got %q", cfg.Events.Subject)
	}
	if len(cfg.Encoders) != 2 || cfg.Encoders[0].Credential != "secret-1" {
		t.Errorf("Unexpected encoders: %+v", cfg.Encoders)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv(EnvWebhookSecret, "from-env")
	t.Setenv(EnvAdminSecret, "admin-env")

	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Webhook.Secret != "from-env" {
		t.Errorf("Expected webhook secret from env, got %q", cfg.Webhook.Secret)
	}
	if cfg.Server.AdminSecret != "admin-env" {
		t.Errorf("Expected admin secret from env, got %q", cfg.Server.AdminSecret)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &models.MasterConfig{}
	ApplyDefaults(cfg)
	cfg.Database.Driver = "postgres"
	cfg.Encoders = []models.Encoder{
		{Name: "w1", URL: "http://w1"},
		{Name: "w1", URL: "not-a-url"},
	}

	err := Validate(cfg)
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Expected ValidationErrors, got %v", err)
	}

	fields := make(map[string]bool)
	for _, e := range verrs.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"database.driver",
		"encoders[1].name",
		"encoders[1].url",
		"webhook.secret",
		"webhook.public_url",
		"storage.gateway_url",
		"storage.primary.type",
	} {
		if !fields[want] {
			t.Errorf("Expected validation error for %s, got %+v", want, verrs.Errors)
		}
	}
}

func TestLoadMasterConfigMissingFile(t *testing.T) {
	_, err := LoadMasterConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadMasterConfig(t *testing.T) {
	t.Setenv(EnvWebhookSecret, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadMasterConfig(path)
	if err != nil {
		t.Fatalf("LoadMasterConfig failed: %v", err)
	}
	if cfg.Webhook.Secret != "hook-secret" {
		t.Errorf("Expected hook-secret, got %q", cfg.Webhook.Secret)
	}
}
