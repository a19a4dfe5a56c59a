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

	"go.uber.org/zap"

	"sigep.org/internal/audit"
	"sigep.org/internal/auth"
	"sigep.org/internal/config"
	"sigep.org/internal/httpapi"
	"sigep.org/internal/obs"
	"sigep.org/internal/query"
	"sigep.org/internal/store/pg"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := obs.Setup(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, "sigep-api")

	store, err := pg.Open(cfg.Postgres.DSN, pg.Pool{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		lg.Fatal("open db", zap.Error(err))
	}

	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		lg.Fatal("token issuer", zap.Error(err))
	}
	authSvc, err := auth.NewService(store, tokens)
	if err != nil {
		lg.Fatal("auth service", zap.Error(err))
	}

	api, err := httpapi.New(httpapi.Deps{
		Tables: store,
		Auth:   authSvc,
		Query: query.NewService(store.Executor(), query.Options{
			ForbiddenTables: cfg.Query.ForbiddenTables,
			DefaultLimit:    cfg.Query.DefaultLimit,
			MaxLimit:        cfg.Query.MaxLimit,
		}),
		Audit: audit.NewRecorder(store.Audit()),
		Ready: store,
	}, httpapi.Options{
		Resources:    cfg.API.Resources,
		AdminRole:    cfg.Auth.AdminRole,
		RateBurst:    cfg.API.RateBurst,
		RatePerSec:   cfg.API.RatePerSec,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		WriteRoles:   cfg.API.WriteRoles,
		Version:      version,
	})
	if err != nil {
		lg.Fatal("build api", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("starting sigep-api", zap.String("version", version), zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
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
	if err := srv.Shutdown(ctx); err != nil {
		lg.Warn("shutdown", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		lg.Warn("close db", zap.Error(err))
	}
	lg.Info("stopped")
}
