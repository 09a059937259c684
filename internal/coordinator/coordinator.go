// Package coordinator wires the pipeline master components together and
// runs them until shutdown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/darkace1998/video-pipeline/internal/admin"
	"github.com/darkace1998/video-pipeline/internal/apikey"
	"github.com/darkace1998/video-pipeline/internal/auth"
	"github.com/darkace1998/video-pipeline/internal/config"
	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/dispatcher"
	"github.com/darkace1998/video-pipeline/internal/encoder"
	"github.com/darkace1998/video-pipeline/internal/ingest"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/metrics"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/pinning"
	"github.com/darkace1998/video-pipeline/internal/server"
	"github.com/darkace1998/video-pipeline/internal/store"
	"github.com/darkace1998/video-pipeline/internal/store/mongo"
	"github.com/darkace1998/video-pipeline/internal/store/pebble"
	"github.com/darkace1998/video-pipeline/internal/store/sqlite"
	"github.com/darkace1998/video-pipeline/internal/webhook"
)

const webhookPath = "/api/webhook/encoding"

// Coordinator orchestrates the master components
type Coordinator struct {
	config     *models.MasterConfig
	store      store.Store
	dispatcher *dispatcher.Dispatcher
	consumer   *ingest.Consumer
	apiKeys    *apikey.Service
	server     *server.Server
}

// New builds every component from cfg. The store is closed again if a later
// component fails to build.
func New(ctx context.Context, cfg *models.MasterConfig) (*Coordinator, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c, err := build(cfg, st)
	if err != nil {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Failed to close database", "error", cerr)
		}
		return nil, err
	}
	return c, nil
}

func build(cfg *models.MasterConfig, st store.Store) (*Coordinator, error) {
	m := metrics.New()

	registry, err := config.NewRegistry(cfg.Encoders, cfg.Dispatcher.EncoderStatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoder registry: %w", err)
	}

	pinner, err := newPinner(cfg, m)
	if err != nil {
		return nil, err
	}

	lc := lifecycle.New(st)
	ingestSvc := ingest.NewService(lc, st, pinner, m, ingest.WithUploadDir(cfg.Storage.UploadDir))
	apiKeys := apikey.NewService(st)

	disp := dispatcher.New(st, st, lc, registry,
		encoder.NewClient(encoder.WithTimeout(cfg.Dispatcher.RequestTimeout)), m,
		dispatcher.Config{
			PollInterval:  cfg.Dispatcher.PollInterval,
			BatchSize:     cfg.Dispatcher.BatchSize,
			GatewayURL:    cfg.Storage.GatewayURL,
			WebhookURL:    strings.TrimRight(cfg.Webhook.PublicURL, "/") + webhookPath,
			WebhookSecret: cfg.Webhook.Secret,
		})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Deps{
		Store:     st,
		Lifecycle: lc,
		Webhook:   webhook.NewHandler(st, lc, cfg.Webhook.Secret, m),
		Ingest:    ingestSvc,
		APIKeys:   apiKeys,
		Admin:     admin.NewService(st, st, lc, registry),
		Registry:  registry,
		Auth:      auth.NewAuthority(cfg.Server.AdminSecret),
		Metrics:   m,
	}, cfg.Server.RateLimitPerMinute)

	c := &Coordinator{
		config:     cfg,
		store:      st,
		dispatcher: disp,
		apiKeys:    apiKeys,
		server:     srv,
	}

	if cfg.Events.NATSURL != "" {
		consumer, err := ingest.NewConsumer(cfg.Events.NATSURL, cfg.Events.Subject, cfg.Events.Durable, ingestSvc)
		if err != nil {
			return nil, err
		}
		c.consumer = consumer
	}

	if cfg.Server.AdminSecret == "" {
		slog.Warn("No admin secret configured, admin API is disabled")
	}
	return c, nil
}

// OpenStore opens the record store selected by database.driver
func OpenStore(ctx context.Context, cfg *models.MasterConfig) (store.Store, error) {
	switch cfg.Database.Driver {
	case constants.DriverSQLite:
		return sqlite.New(cfg.Database.Path)
	case constants.DriverPebble:
		return pebble.New(cfg.Database.Path)
	case constants.DriverMongo:
		return mongo.New(ctx, cfg.Database.URI, cfg.Database.Name)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func newPinner(cfg *models.MasterConfig, m *metrics.Metrics) (*pinning.Client, error) {
	primary, err := pinning.NewBackend(cfg.Storage.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary pin backend: %w", err)
	}

	var fallback pinning.Backend
	if cfg.Storage.Fallback.Type != "" {
		fallback, err = pinning.NewBackend(cfg.Storage.Fallback)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback pin backend: %w", err)
		}
	}

	return pinning.NewClient(primary, fallback, cfg.Storage.PinTimeout, m), nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives. On shutdown
// the event consumer and the poll loop stop first, then the HTTP server
// drains, and the store is closed last.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if c.consumer != nil {
		if err := c.consumer.Start(gctx); err != nil {
			c.closeStore()
			return err
		}
	}

	g.Go(func() error {
		return c.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		return c.server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down, stopping event consumer and poll loop")
		if c.consumer != nil {
			if err := c.consumer.Close(); err != nil {
				slog.Error("Event consumer shutdown error", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		return c.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	c.apiKeys.Wait()
	c.closeStore()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) closeStore() {
	if err := c.store.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}
