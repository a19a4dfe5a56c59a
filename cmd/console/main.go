package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sigep.org/internal/access"
	"sigep.org/internal/config"
	"sigep.org/internal/console"
	"sigep.org/internal/crud"
	"sigep.org/internal/obs"
	"sigep.org/internal/session"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateConsole(); err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := obs.Setup(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, "sigep-console")

	client, err := crud.New(cfg.Console.APIBaseURL, crud.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	if err != nil {
		lg.Fatal("api client", zap.Error(err))
	}

	var sessions session.Store = session.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			lg.Fatal("redis ping", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		rs, err := session.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.Console.SessionTTL)
		if err != nil {
			lg.Fatal("redis session store", zap.Error(err))
		}
		sessions = rs
		lg.Info("sessions in redis", zap.String("addr", cfg.Redis.Addr))
	}

	srv, err := console.New(console.Deps{
		Sessions: sessions,
		Client:   client,
		Resolver: access.NewResolver(access.NewCRUDSource(client)),
		Guard:    access.NewGuard(),
	}, console.Options{
		Pages:        cfg.Console.Pages,
		SessionTTL:   cfg.Console.SessionTTL,
		SecureCookie: cfg.App.Env == "production",
	})
	if err != nil {
		lg.Fatal("build console", zap.Error(err))
	}

	e := srv.Echo()
	errCh := make(chan error, 1)
	go func() {
		lg.Info("starting sigep-console", zap.String("version", version), zap.String("addr", cfg.Console.Addr))
		errCh <- e.Start(cfg.Console.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("listen", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		lg.Warn("shutdown", zap.Error(err))
	}
	lg.Info("stopped")
}
