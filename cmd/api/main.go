package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xleos/studio/config"
	httpapi "github.com/xleos/studio/internal/api/http"
	"github.com/xleos/studio/internal/bootstrap"
	"github.com/xleos/studio/internal/platform/logger"
	"github.com/xleos/studio/internal/waitlist/repository"
	"github.com/xleos/studio/internal/waitlist/sheets"
	"github.com/xleos/studio/internal/waitlist/service"
	waitlisthttp "github.com/xleos/studio/internal/waitlist/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.App.LogLevel, Encoding: cfg.App.LogEncoding})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap.SetGinMode(cfg.App.Environment)

	deps := bootstrap.RouterDeps{
		ServiceName:    "xleos-api",
		Version:        cfg.App.Version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         zlog,
	}

	var sink service.Sink
	if cfg.Waitlist.SheetsEnabled() {
		s, err := sheets.NewServiceAccountSink(ctx, cfg.Waitlist.GoogleEmail, cfg.Waitlist.GooglePrivateKey, cfg.Waitlist.SheetID, cfg.Waitlist.SheetRange)
		if err != nil {
			return fmt.Errorf("sheets sink: %w", err)
		}
		sink = s
	} else {
		zlog.Warn("waitlist spreadsheet is not configured; signups will fail")
	}

	var mirror service.Mirror
	db, err := bootstrap.OpenDB(ctx, cfg.Database)
	if err != nil {
		zlog.Warn("postgres unavailable, waitlist mirror disabled", zap.Error(err))
	} else if db != nil {
		defer db.Close()
		repo := repository.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("waitlist schema: %w", err)
		}
		if err := prometheus.Register(repo.SignupsGauge()); err != nil {
			zlog.Warn("register waitlist gauge", zap.Error(err))
		}
		mirror = repo
		deps.DB = db
	}

	var guard service.Guard
	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		zlog.Warn("redis unavailable, duplicate signups are not blocked", zap.Error(err))
	} else if rdb != nil {
		defer rdb.Close()
		dedup := repository.NewDedupGuard(rdb, cfg.Waitlist.DedupTTL)
		guard = dedup
		deps.Redis = httpapi.PingerFunc(dedup.Ping)
	}

	var limiter *waitlisthttp.ClientLimiter
	if cfg.Waitlist.RateLimit > 0 {
		limiter = waitlisthttp.NewClientLimiter(cfg.Waitlist.RateLimit, cfg.Waitlist.RateBurst)
	}

	svc := service.NewService(sink, mirror, guard, cfg.Waitlist.Source, zlog)
	deps.Waitlist = waitlisthttp.New(svc, limiter, zlog)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           bootstrap.BuildRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
