package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/darkace1998/video-pipeline/internal/config"
	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/models"
)

func testConfig(t *testing.T, driver string) *models.MasterConfig {
	t.Helper()
	cfg := &models.MasterConfig{}
	cfg.Database.Driver = driver
	cfg.Database.Path = filepath.Join(t.TempDir(), "pipeline.db")
	config.ApplyDefaults(cfg)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Dispatcher.PollInterval = time.Hour
	cfg.Webhook.PublicURL = "https://pipeline.example.com/"
	cfg.Webhook.Secret = "hook-secret"
	cfg.Storage.GatewayURL = "https://gw.example.com/ipfs/"
	cfg.Storage.Primary = models.PinEndpoint{Type: constants.PinBackendIPFS, URL: "http://127.0.0.1:5001"}
	cfg.Encoders = []models.Encoder{{Name: "w1", URL: "http://127.0.0.1:9", Enabled: true}}
	return cfg
}

func TestOpenStore(t *testing.T) {
	for _, driver := range []string{constants.DriverSQLite, constants.DriverPebble} {
		t.Run(driver, func(t *testing.T) {
			st, err := OpenStore(context.Background(), testConfig(t, driver))
			if err != nil {
				t.Fatalf("OpenStore failed: %v", err)
			}
			defer func() { _ = st.Close() }()

			if err := st.Ping(context.Background()); err != nil {
				t.Errorf("Ping failed: %v", err)
			}
		})
	}

	cfg := testConfig(t, constants.DriverSQLite)
	cfg.Database.Driver = "postgres"
	if _, err := OpenStore(context.Background(), cfg); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestNewRejectsBadPinBackend(t *testing.T) {
	cfg := testConfig(t, constants.DriverSQLite)
	cfg.Storage.Primary.Type = "ftp"

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("Expected error for unknown pin backend")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, constants.DriverSQLite)

	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := c.store.Ping(context.Background()); err == nil {
		t.Error("Expected store to be closed after Run")
	}
}
