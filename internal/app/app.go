// Package app assembles the API process: config, stores, service, routing.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"lepm/internal/assembly"
	"lepm/internal/config"
	"lepm/internal/handler"
	"lepm/internal/middleware"
	"lepm/internal/repository/artifact"
	netrepo "lepm/internal/repository/network"
	"lepm/internal/server"
	"lepm/internal/service/network"
	"lepm/internal/web"
)

type App struct {
	server *server.Server
	svc    *network.Service
	log    *slog.Logger
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg.Env)

	store, err := netrepo.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("open network store: %w", err)
	}

	var exports artifact.Store
	if cfg.Export.Enabled {
		exports, err = artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Export.Endpoint,
			Region:    cfg.Export.Region,
			AccessKey: cfg.Export.AccessKey,
			SecretKey: cfg.Export.SecretKey,
			Bucket:    cfg.Export.Bucket,
			UseSSL:    cfg.Export.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open export store: %w", err)
		}
	} else {
		log.Warn("export store not configured, exports are kept in memory")
		exports = artifact.NewMemoryStore()
	}

	svc, err := network.New(store, exports, assembly.Config{
		DefaultConductor:     cfg.DefaultConductor,
		EarthRadiusM:         cfg.EarthRadiusM,
		AllowJointSuspension: cfg.AllowJointSuspension,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init network service: %w", err)
	}

	routes := web.Wrap(handler.New(svc, log),
		middleware.CORS,
		web.WithRequestID,
		web.WithLogger(log),
		web.Recover(log),
		web.AccessLog(log),
	)

	return &App{
		server: server.New(cfg.Port, routes, log),
		svc:    svc,
		log:    log,
	}, nil
}

func newLogger(env string) *slog.Logger {
	if env == "local" {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.svc.Close()
	return err
}
