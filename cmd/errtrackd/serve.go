package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/errtrack/internal/telemetry"
	"github.com/armorclaw/errtrack/pkg/config"
	"github.com/armorclaw/errtrack/pkg/eventbus"
	"github.com/armorclaw/errtrack/pkg/health"
	apihttp "github.com/armorclaw/errtrack/pkg/http"
	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/notification"
	"github.com/armorclaw/errtrack/pkg/scheduler"
	"github.com/armorclaw/errtrack/pkg/sink"
	"github.com/armorclaw/errtrack/pkg/store"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// daemon holds the wired components of a running errtrackd
type daemon struct {
	cfg       *config.Config
	log       *logger.Logger
	tracker   *tracker.Tracker
	store     *store.Store
	bus       *eventbus.EventBus
	scheduler *scheduler.Scheduler
	health    *health.Monitor
	server    *apihttp.Server
}

func runServeCommand(cli cliConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.run(ctx)
}

func newDaemon(cfg *config.Config, log *logger.Logger, reg prometheus.Registerer) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, log: log}
	defer func() {
		if err != nil && d.store != nil {
			d.store.Close()
		}
	}()

	tcfg, err := cfg.ToTrackerConfig()
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	d.bus = eventbus.NewEventBus(eventbus.Config{
		MaxSubscribers:    cfg.EventBus.MaxSubscribers,
		InactivityTimeout: cfg.InactivityTimeout(),
	}, log.WithComponent("eventbus"))

	notifiers := []tracker.AlertNotifier{
		notification.NewLogNotifier(log.WithComponent("notifier")),
		notification.NewBusNotifier(d.bus),
	}
	if cfg.Notifications.Enabled && cfg.Notifications.WebhookURL != "" {
		wh, err := notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:           cfg.Notifications.WebhookURL,
			Timeout:       cfg.WebhookTimeout(),
			RatePerMinute: cfg.Notifications.WebhookRatePerMinute,
			QueueSize:     cfg.Notifications.QueueSize,
		}, log.WithComponent("webhook"))
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, wh)
	}

	d.health = health.NewMonitor(health.DefaultMonitorConfig(), log.WithComponent("health"))
	d.health.SetFailureHandler(func(name string, err error) {
		log.ErrorEvent(context.Background(), "component_unhealthy", err, slog.String("name", name))
	})

	sinks := []tracker.EventSink{sink.NewLog(log.WithComponent("sink"))}
	if cfg.Store.Enabled {
		st, err := store.New(store.Config{
			Path:      cfg.Store.DBPath,
			Retention: cfg.StoreRetention(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		d.store = st

		storeLog := log.WithComponent("store")
		async := sink.NewAsync(st,
			sink.WithBufferSize(cfg.Store.BufferSize),
			sink.WithDrainTimeout(cfg.StoreDrainTimeout()),
			sink.WithOnError(func(rec tracker.Record, err error) {
				storeLog.ErrorEvent(context.Background(), "persist_failed", err,
					slog.String("fingerprint", rec.Fingerprint),
					slog.String("event_id", rec.Event.ID))
			}),
			sink.WithOnDrop(func(tracker.Record) { metrics.SinkDropped() }),
		)
		sinks = append(sinks, async)
		d.health.Register("store", st.Ping)
		d.health.Register("sink", async.Check)
	}

	d.tracker, err = tracker.New(tcfg,
		tracker.WithSink(sink.NewMulti(sinks...)),
		tracker.WithNotifier(notification.NewMulti(notifiers...)),
		tracker.WithRecorder(metrics),
		tracker.WithLogger(log.WithComponent("tracker")))
	if err != nil {
		return nil, err
	}

	d.scheduler = scheduler.New(log.WithComponent("scheduler"), time.Minute)
	if err := d.scheduler.Add("tracker-cleanup", cfg.Cleanup.Schedule, scheduler.TrackerCleanup(d.tracker)); err != nil {
		return nil, err
	}
	if d.store != nil {
		if err := d.scheduler.Add("store-retention", cfg.Cleanup.StoreSchedule, scheduler.StoreCleanup(d.store)); err != nil {
			return nil, err
		}
	}

	if cfg.Server.Enabled {
		opts := []apihttp.Option{
			apihttp.WithEventBus(d.bus),
			apihttp.WithHealth(d.health),
			apihttp.WithLogger(log.WithComponent("http")),
		}
		if g, ok := reg.(prometheus.Gatherer); ok {
			opts = append(opts, apihttp.WithGatherer(g))
		}
		if d.store != nil {
			opts = append(opts, apihttp.WithResolver(d.store))
		}
		d.server = apihttp.NewServer(apihttp.ServerConfig{
			Addr:           cfg.Server.Addr,
			IngestRate:     cfg.Server.IngestRate,
			IngestBurst:    cfg.Server.IngestBurst,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Version:        version,
		}, d.tracker, opts...)
	}

	return d, nil
}

// run starts every component and blocks until ctx is cancelled or the
// server fails, then shuts down in reverse order
func (d *daemon) run(ctx context.Context) error {
	d.bus.Start()
	d.scheduler.Start()
	d.health.Start()

	d.log.Info("errtrackd started",
		slog.String("version", version),
		slog.Bool("store", d.store != nil),
		slog.Bool("server", d.server != nil))

	g, gctx := errgroup.WithContext(ctx)
	if d.server != nil {
		g.Go(d.server.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		return d.shutdown()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *daemon) shutdown() error {
	d.log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
	defer cancel()

	var errs []error
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}
	if err := d.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	d.health.Stop()
	d.bus.Stop()

	// Drains the async sink into the store, then closes it, and flushes
	// the webhook queue
	if err := d.tracker.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.log.Info("shutdown complete")
	return nil
}
