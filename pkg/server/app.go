package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"Guardrail/internal/service/notify"
	"Guardrail/internal/services/killledger"
	"Guardrail/internal/usecase"
	"Guardrail/pkg/config"
	xhttp "Guardrail/pkg/http"
	pkgkafka "Guardrail/pkg/kafka"
	applogger "Guardrail/pkg/logger"
	"Guardrail/pkg/queue"
)

// Components is everything the App runs. Optional parts are nil when their
// backend is disabled in the configuration.
type Components struct {
	Logger   *applogger.Logger
	HTTP     *xhttp.Server
	Ledger   *killledger.Ledger
	Monitor  *usecase.IntegrityMonitor
	Sweeper  *usecase.AnchorSweeper
	Hub      *notify.Hub
	Consumer *pkgkafka.Consumer
	Requests *usecase.KillRequestHandler
	Outbox   *queue.RedisQueue
	// Closers are released last, in order.
	Closers []io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	c   Components
	log *applogger.Logger
	wg  sync.WaitGroup
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, c Components) *App {
	log := c.Logger
	if log == nil {
		log = applogger.Nop()
	}
	return &App{cfg: cfg, c: c, log: log}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// refuse to serve on a tampered ledger
	active, err := a.c.Ledger.Replay(runCtx, time.Now())
	if err != nil {
		a.closeAll()
		return fmt.Errorf("kill ledger replay: %w", err)
	}
	for _, k := range active {
		a.log.Warn("kill in effect at startup",
			applogger.String("scope", k.Scope),
			applogger.String("reason", k.Reason),
			applogger.Time("expires_at", k.ExpiresAt),
		)
	}

	if a.c.Outbox != nil {
		if err := a.c.Outbox.Start(runCtx); err != nil {
			a.closeAll()
			return fmt.Errorf("notification outbox: %w", err)
		}
	}

	if a.c.Consumer != nil && a.c.Requests != nil {
		a.c.Consumer.RegisterHandler(a.c.Requests)
		if err := a.c.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.c.Requests.Topic()))
		}
	}

	if a.c.Sweeper != nil {
		a.goRun(runCtx, "anchor sweeper", a.c.Sweeper)
	}
	if a.c.Monitor != nil {
		a.goRun(runCtx, "integrity monitor", a.c.Monitor)
	}

	if err := a.c.HTTP.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		cancel()
		a.wg.Wait()
		a.closeAll()
		return err
	}
	a.log.Info("guardrail started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("ledger", a.cfg.Ledger.Backend),
		applogger.String("anchor_store", a.cfg.Staleness.Store),
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

type runner interface {
	Run(ctx context.Context)
}

func (a *App) goRun(ctx context.Context, name string, r runner) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		r.Run(ctx)
		a.log.Debug(name+" stopped")
	}()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.wg.Wait()

	if a.c.Outbox != nil {
		if err := a.c.Outbox.Stop(ctx); err != nil {
			a.log.Warn("notification outbox stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Hub != nil {
		_ = a.c.Hub.Close()
	}

	errs = append(errs, a.closeAll()...)
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() []error {
	var errs []error
	for _, c := range a.c.Closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	a.c.Closers = nil
	return errs
}
