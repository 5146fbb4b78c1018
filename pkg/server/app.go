package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/handler/ws"
	"ForeCrypt/internal/scheduler"
	"ForeCrypt/internal/usecase"
	"ForeCrypt/pkg/config"
	xhttp "ForeCrypt/pkg/http"
	pkgkafka "ForeCrypt/pkg/kafka"
	applogger "ForeCrypt/pkg/logger"
	"ForeCrypt/pkg/queue"
)

// Closer is an infrastructure resource released at shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	cycle       *usecase.CycleScheduler
	maintenance *usecase.MaintenanceUseCase
	cron        *scheduler.Scheduler
	consumer    *pkgkafka.Consumer
	handlers    []pkgkafka.MessageHandler
	httpServer  *xhttp.Server
	feed        *ws.TickFeed
	tickQueue   *queue.RedisQueue
	closers     []Closer
}

// Components groups what New needs. Consumer, Feed, TickQueue and
// MirrorHandlers are optional.
type Components struct {
	Config         *config.Config
	Logger         *applogger.Logger
	Cycle          *usecase.CycleScheduler
	Maintenance    *usecase.MaintenanceUseCase
	HTTP           *xhttp.Server
	Feed           *ws.TickFeed
	Consumer       *pkgkafka.Consumer
	MirrorHandlers []pkgkafka.MessageHandler
	TickQueue      *queue.RedisQueue
	Closers        []Closer
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	l := c.Logger
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:         c.Config,
		log:         l,
		cycle:       c.Cycle,
		maintenance: c.Maintenance,
		cron:        scheduler.New(l),
		consumer:    c.Consumer,
		handlers:    c.MirrorHandlers,
		httpServer:  c.HTTP,
		feed:        c.Feed,
		tickQueue:   c.TickQueue,
		closers:     c.Closers,
	}
}

// RunOnce runs a single tick at the current time and releases resources.
func (a *App) RunOnce(ctx context.Context) (models.TickReport, error) {
	defer a.closeAll()
	r := a.cycle.RunTick(ctx, a.cycle.Now())
	if r.Skipped != "" {
		return r, errors.New("tick skipped: " + r.Skipped)
	}
	return r, nil
}

// Run starts the scheduler, the Kafka consumer and the HTTP server, then
// blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	if err := a.cron.AddJob(a.cfg.Scheduler.TickCron, scheduler.TickJob{Cycle: a.cycle}); err != nil {
		return err
	}
	if a.maintenance != nil {
		if err := a.cron.AddJob(a.cfg.Scheduler.MaintenanceCron, scheduler.MaintenanceJob{Maintenance: a.maintenance}); err != nil {
			return err
		}
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("mirror consumer started", applogger.Strings("topics", topics))
	}

	if a.tickQueue != nil {
		a.tickQueue.Register(scheduler.ManualTickJob{Cycle: a.cycle})
		if err := a.tickQueue.Start(context.Background()); err != nil {
			return err
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	a.cron.Start()
	if a.cfg.Scheduler.RunOnStart {
		a.cron.RunNow(scheduler.TickJob{Cycle: a.cycle})
	}
	a.log.Info("forecrypt started",
		applogger.Strings("series", a.cfg.Series),
		applogger.Int("models", len(a.cfg.Models)),
		applogger.String("tick_cron", a.cfg.Scheduler.TickCron),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops everything in reverse start order.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.cron.Stop()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.feed != nil {
		a.feed.Close()
	}

	if a.tickQueue != nil {
		if err := a.tickQueue.Stop(ctx); err != nil {
			a.log.Warn("tick queue stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.closeAll()
	a.log.Info("shutdown complete")
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	a.closers = nil
}
