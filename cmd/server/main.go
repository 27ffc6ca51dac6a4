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

	"accountgate/internal/api"
	"accountgate/internal/config"
	"accountgate/internal/db"
	"accountgate/internal/notify"
	"accountgate/internal/oracle"
	"accountgate/internal/service"
	"accountgate/internal/store"
	"accountgate/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		log.Fatalf("db driver: %v", err)
	}
	sqdb, err := db.Open(dialect, cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.ApplyMigrations(ctx, sqdb); err != nil {
		log.Fatalf("migration: %v", err)
	}

	st := store.New(sqdb, dialect, cfg.StoreCASRetries)
	svc := service.New(cfg, st, oracle.New(cfg), notify.NewSender(cfg))
	r := api.NewRouter(cfg, svc)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	v := version.Current()
	log.Printf("listening on %s driver=%s version=%s commit=%s admin_api=%t", cfg.ListenAddr, dialect, v.Version, v.Commit, cfg.AdminAPIEnabled)
	if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}
