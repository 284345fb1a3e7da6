package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rent360.org/internal/auth"
	"rent360.org/internal/authz"
	"rent360.org/internal/config"
	"rent360.org/internal/datasource"
	"rent360.org/internal/events"
	"rent360.org/internal/features"
	"rent360.org/internal/httpapi"
	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
	"rent360.org/internal/properties"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().WithError(err).Fatal("load config")
	}
	obs.ConfigureLogger(cfg.Log.Level, cfg.Log.Format)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, closer, err := kv.Open(ctx, cfg.Storage)
	cancel()
	if err != nil {
		logger.WithError(err).WithField("backend", cfg.Storage.Backend).Fatal("open storage")
	}
	defer closer.Close()

	src := datasource.New(cfg.API)
	durable := kv.Durable(store)
	flags := features.FromConfig(cfg.Features)
	roles := auth.NewRoleOverrides(durable, cfg.AccessControl.EnableClientRoleManagement)
	dir := auth.NewDirectory(src, roles)
	sessions := auth.NewSessions(store, dir, roles, auth.WithTTL(cfg.Session.TTL))
	tokens, err := auth.NewTokens(cfg.Session.Secret, cfg.Session.Issuer)
	if err != nil {
		logger.WithError(err).Fatal("configure tokens")
	}
	engine := authz.NewEngine(flags, durable,
		authz.WithOverrides(cfg.AccessControl.EnableClientPermissionOverrides),
		authz.WithStaticOverrides(cfg.AccessControl.PermissionOverrides),
	)
	repo := properties.NewRepository(src, durable)

	sweeper := auth.NewSweeper(sessions, cfg.Session.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Fatal("start session sweeper")
	}
	defer sweeper.Stop()

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, "rent360-api")
		if err != nil {
			logger.WithError(err).Warn("nats unavailable, property events disabled")
		} else {
			detach := events.NewBridge(nc, cfg.NATS.Subject).Attach(repo)
			defer func() {
				detach()
				if err := nc.Drain(); err != nil {
					logger.WithError(err).Warn("nats drain")
				}
			}()
		}
	}

	readiness := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(httpapi.Deps{
		Readiness:     readiness,
		Sessions:      sessions,
		Tokens:        tokens,
		Directory:     dir,
		RoleOverrides: roles,
		Engine:        engine,
		Flags:         flags,
		Properties:    repo,
		Source:        src,
		RateLimit:     cfg.RateLimit,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := httpapi.NewGRPCServer(readiness)

	fields := logrus.Fields{
		"version":     version,
		"http_addr":   cfg.HTTPAddr,
		"grpc_addr":   cfg.GRPCAddr,
		"storage":     cfg.Storage.Backend,
		"session_ttl": sessions.TTL().String(),
		"mock_api":    cfg.API.UseMockAPI,
		"environment": cfg.Environment,
	}
	logger.WithFields(fields).Info("starting rent360-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http listen")
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.WithError(err).Fatal("grpc listen")
		}
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				logger.WithError(err).Error("grpc serve")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	logger.Info("stopped")
}
