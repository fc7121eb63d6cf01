// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	capturegcs "github.com/dropsignal/fleetpoller/internal/capture/gcs"
	capturelocal "github.com/dropsignal/fleetpoller/internal/capture/local"
	capturememory "github.com/dropsignal/fleetpoller/internal/capture/memory"
	"github.com/dropsignal/fleetpoller/internal/clock/system"
	"github.com/dropsignal/fleetpoller/internal/cloud"
	"github.com/dropsignal/fleetpoller/internal/cloud/fake"
	"github.com/dropsignal/fleetpoller/internal/config"
	executorchromedp "github.com/dropsignal/fleetpoller/internal/executor/chromedp"
	executorcolly "github.com/dropsignal/fleetpoller/internal/executor/colly"
	"github.com/dropsignal/fleetpoller/internal/fleet"
	"github.com/dropsignal/fleetpoller/internal/logging"
	"github.com/dropsignal/fleetpoller/internal/metrics"
	"github.com/dropsignal/fleetpoller/internal/notify"
	"github.com/dropsignal/fleetpoller/internal/notify/sinks"
	"github.com/dropsignal/fleetpoller/internal/retry"
	storefile "github.com/dropsignal/fleetpoller/internal/store/file"
	storememory "github.com/dropsignal/fleetpoller/internal/store/memory"
	storepostgres "github.com/dropsignal/fleetpoller/internal/store/postgres"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

// App holds the shared, long-lived services: logger, fleet manager, stores,
// executor, and the event hub. It is built once at startup and handed to the
// commands that need it.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        watch.Clock
	manager      *fleet.Manager
	executor     watch.Executor
	observations watch.ObservationStore
	captures     watch.CaptureStore
	hub          *notify.Hub

	closers []func(context.Context)
}

// New builds every service the configuration asks for and fails fast when any
// of them cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, clock: system.Clock{}}

	if err := a.buildFleet(ctx); err != nil {
		return nil, err
	}
	if err := a.buildObservationStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildCaptureStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildExecutor(); err != nil {
		return nil, err
	}
	if err := a.buildHub(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildFleet(ctx context.Context) error {
	retrier := retry.New(retry.Config{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay(),
		MaxDelay:    a.cfg.Retry.MaxDelay(),
	}, a.logger)

	// The in-memory provider stands in for the cloud control plane; swapping
	// in a real provider means implementing cloud.Client against its SDK.
	var client cloud.Client = fake.NewClient()

	names := fleet.DefaultNames()
	cache := fleet.NewResourceCache(client, retrier, names, a.logger)
	store, err := storefile.NewFleetStore(a.cfg.Fleet.StatePath, a.clock)
	if err != nil {
		return fmt.Errorf("initialize fleet state store: %w", err)
	}

	a.manager = fleet.NewManager(client, cache, retrier, store, a.clock, fleet.Config{
		Regions:           a.cfg.Fleet.Regions,
		SubmitConcurrency: a.cfg.Fleet.SubmitConcurrency,
		ChunkDelay:        a.cfg.Fleet.ChunkDelay(),
		ReadyTimeout:      a.cfg.Fleet.ReadyTimeout(),
		PollInterval:      a.cfg.Fleet.PollInterval(),
		ProxyPort:         a.cfg.Fleet.ProxyPort,
	}, names, a.logger)

	if err := a.manager.Init(ctx); err != nil {
		return fmt.Errorf("initialize fleet manager: %w", err)
	}
	return nil
}

func (a *App) buildObservationStore(ctx context.Context) error {
	switch a.cfg.Store.Kind {
	case "file":
		store, err := storefile.NewObservationStore(a.cfg.Store.Dir)
		if err != nil {
			return fmt.Errorf("initialize file store: %w", err)
		}
		a.observations = store
	case "postgres":
		store, err := storepostgres.NewObservationStore(ctx, storepostgres.Config{
			DSN:      a.cfg.Store.DB.DSN,
			Table:    a.cfg.Store.DB.Table,
			MaxConns: a.cfg.Store.DB.MaxConns,
			MinConns: a.cfg.Store.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("initialize postgres store: %w", err)
		}
		a.observations = store
		a.closers = append(a.closers, func(context.Context) { store.Close() })
	case "memory":
		a.observations = storememory.NewObservationStore()
	default:
		return fmt.Errorf("unknown store kind %q", a.cfg.Store.Kind)
	}
	a.logger.Info("observation store ready", zap.String("kind", a.cfg.Store.Kind))
	return nil
}

func (a *App) buildCaptureStore(ctx context.Context) error {
	switch a.cfg.Capture.Kind {
	case "local":
		store, err := capturelocal.New(capturelocal.Config{BaseDir: a.cfg.Capture.BaseDir})
		if err != nil {
			return fmt.Errorf("initialize local capture store: %w", err)
		}
		a.captures = store
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("initialize gcs client: %w", err)
		}
		store, err := capturegcs.New(client, capturegcs.Config{Bucket: a.cfg.Capture.GCSBucket})
		if err != nil {
			return fmt.Errorf("initialize gcs capture store: %w", err)
		}
		a.captures = store
		a.closers = append(a.closers, func(context.Context) {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
	case "memory":
		a.captures = capturememory.New()
	case "off":
		a.captures = nil
	default:
		return fmt.Errorf("unknown capture kind %q", a.cfg.Capture.Kind)
	}
	a.logger.Info("capture store ready", zap.String("kind", a.cfg.Capture.Kind))
	return nil
}

func (a *App) buildExecutor() error {
	switch a.cfg.Executor.Kind {
	case "browser":
		executor, err := executorchromedp.New(executorchromedp.Config{
			UserAgent:           a.cfg.Executor.UserAgent,
			ContainerSelector:   a.cfg.Executor.ContainerSelector,
			SlotsSelector:       a.cfg.Executor.SlotsSelector,
			PurchasableSelector: a.cfg.Executor.PurchasableSelector,
			ListedSelector:      a.cfg.Executor.ListedSelector,
		})
		if err != nil {
			return fmt.Errorf("initialize browser executor: %w", err)
		}
		a.executor = executor
	case "probe":
		executor, err := executorcolly.New(executorcolly.Config{
			UserAgent:           a.cfg.Executor.UserAgent,
			ContainerSelector:   a.cfg.Executor.ContainerSelector,
			SlotsSelector:       a.cfg.Executor.SlotsSelector,
			PurchasableSelector: a.cfg.Executor.PurchasableSelector,
			ListedSelector:      a.cfg.Executor.ListedSelector,
		})
		if err != nil {
			return fmt.Errorf("initialize probe executor: %w", err)
		}
		a.executor = executor
	default:
		return fmt.Errorf("unknown executor kind %q", a.cfg.Executor.Kind)
	}
	return nil
}

func (a *App) buildHub(ctx context.Context) error {
	sinkList := []notify.Sink{sinks.NewLogSink(a.logger)}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("initialize prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("initialize pubsub client: %w", err)
		}
		topic := client.Topic(a.cfg.PubSub.TopicName)
		sinkList = append(sinkList, sinks.NewPubSubSink(topic))
		a.closers = append(a.closers, func(context.Context) {
			if err := client.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		a.logger.Info("pubsub sink ready", zap.String("topic", a.cfg.PubSub.TopicName))
	}

	a.hub = notify.NewHub(notify.Config{Logger: a.logger}, sinkList...)
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the shared clock.
func (a *App) Clock() watch.Clock { return a.clock }

// Manager returns the fleet manager.
func (a *App) Manager() *fleet.Manager { return a.manager }

// Executor returns the configured page executor.
func (a *App) Executor() watch.Executor { return a.executor }

// Observations returns the configured observation store.
func (a *App) Observations() watch.ObservationStore { return a.observations }

// Captures returns the configured capture store; nil when captures are off.
func (a *App) Captures() watch.CaptureStore { return a.captures }

// Hub returns the event hub.
func (a *App) Hub() *notify.Hub { return a.hub }

// Close flushes the event hub, releases clients, and syncs the logger.
func (a *App) Close(ctx context.Context) {
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("event hub close failed", zap.Error(err))
	}
	for _, closeFn := range a.closers {
		closeFn(ctx)
	}
	_ = a.logger.Sync()
}
