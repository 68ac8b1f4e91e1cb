// Command qsched runs the self-hosted job scheduler: the HTTP control
// API, the Scheduler/Catalog Reconciler/Job Executor pipeline, and the
// read-only web UI, any combination of which can run in this single
// process depending on the SERVICES environment variable.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/quickscheduler/qsched/config"
	"github.com/quickscheduler/qsched/internal/bootstrap"
	"github.com/quickscheduler/qsched/internal/catalog"
	"github.com/quickscheduler/qsched/internal/executor"
	"github.com/quickscheduler/qsched/internal/httpapi"
	"github.com/quickscheduler/qsched/internal/lock"
	"github.com/quickscheduler/qsched/internal/observability/statsd"
	"github.com/quickscheduler/qsched/internal/runner"
	"github.com/quickscheduler/qsched/internal/scheduler"
	"github.com/quickscheduler/qsched/internal/store"
	"github.com/quickscheduler/qsched/internal/webui"
)

const serverShutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // main entrypoint exits non-zero on fatal errors
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}
	logStartupInfo(ctx, logger, &cfg)

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer closeLogged(ctx, logger, "database", db.Close)

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer closeLogged(ctx, logger, "redis", redisClient.Close)
	}

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	}

	deps, err := buildDeps(cfg, db, redisClient, logger)
	if err != nil {
		return err
	}

	services, err := cfg.GetEnabledServices()
	if err != nil {
		return err
	}

	var workers []bootstrap.Worker
	if services[config.ServiceModeAPI] {
		workers = append(workers, bootstrap.Worker{Name: "api", Run: deps.runAPI})
	}
	if services[config.ServiceModeScheduler] {
		workers = append(workers, bootstrap.Worker{Name: "scheduler", Run: deps.sched.Run})
	}
	if services[config.ServiceModeUI] {
		workers = append(workers, bootstrap.Worker{Name: "ui", Run: deps.runUI})
	}

	sup := bootstrap.NewSupervisor(logger, 0)
	err = sup.Run(ctx, workers)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serviceDeps holds every collaborator the supervised workers close over.
type serviceDeps struct {
	sched  *scheduler.Scheduler
	apiSrv *httpapi.Server
	uiSrv  *webui.Server
	cfg    config.AppConfig
	logger *slog.Logger
}

func buildDeps(cfg config.AppConfig, db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) (*serviceDeps, error) {
	st := store.NewPostgresStore(db)

	locker := lock.Locker(lock.NoopLocker{})
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient)
	}

	metricsSink, err := statsd.NewClient(statsd.Config{
		Enabled:    cfg.Observability.Metrics.IsEnabled(),
		Address:    cfg.Observability.Metrics.StatsdAddress,
		Prefix:     "qsched",
		Logger:     logger,
		GlobalTags: map[string]string{"env": envTag(cfg)},
	})
	if err != nil {
		return nil, fmt.Errorf("build statsd client: %w", err)
	}

	notifier := executor.Notifier(executor.NoopNotifier{})
	if cfg.Observability.Notifications.Enabled {
		notifier = executor.NewWebhookNotifier(
			cfg.Observability.Notifications.WebhookURL,
			cfg.Observability.Notifications.Timeout,
			cfg.Observability.Notifications.RetryLimit,
		)
	}

	exec := executor.New(executor.Config{
		Store:             st,
		Registry:          runner.NewRegistry(),
		Notifier:          notifier,
		Metrics:           metricsSink,
		Logger:            logger,
		LogDir:            cfg.Runner.LogDir,
		OutputBufferLines: cfg.Runner.OutputBufferLines,
	})

	cat := catalog.New(cfg.Scheduler.TasksDir, st)

	sched := scheduler.New(scheduler.Config{
		Store:          st,
		Catalog:        cat,
		Executor:       exec,
		RescanInterval: cfg.Scheduler.RescanInterval,
		Metrics:        metricsSink,
		Logger:         logger,
		Locker:         locker,
	})

	apiSrv := httpapi.NewServer(st, sched, logger)

	uiSrv, err := webui.NewServer(cfg.UI.APIBaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("build web UI server: %w", err)
	}

	return &serviceDeps{sched: sched, apiSrv: apiSrv, uiSrv: uiSrv, cfg: cfg, logger: logger}, nil
}

func (d *serviceDeps) runAPI(ctx context.Context) error {
	return serveHTTP(ctx, d.cfg.HTTP.Addr, d.apiSrv.Handler(), d.logger, "control API")
}

func (d *serviceDeps) runUI(ctx context.Context) error {
	return serveHTTP(ctx, d.cfg.UI.Addr, d.uiSrv.Handler(), d.logger, "web UI")
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, name string) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "http server listening", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", name, err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	enabled := bootstrap.GetEnabledServices(cfg)
	logger.InfoContext(ctx, "starting qsched",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"enabled_services", enabled,
	)
}

func closeLogged(ctx context.Context, logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.ErrorContext(ctx, "close failed", "resource", name, "error", err)
	}
}

func envTag(cfg config.AppConfig) string {
	if cfg.IsDev {
		return "dev"
	}
	return "prod"
}
