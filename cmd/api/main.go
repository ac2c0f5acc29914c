// Package main provides the entry point for the API server.
package main

import (
	"log/slog"
	"os"

	"github.com/cloud-gov/pages-core/internal/api"
	"github.com/cloud-gov/pages-core/internal/auth"
	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/events"
	"github.com/cloud-gov/pages-core/internal/integrations/executor"
	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/logarchive"
	"github.com/cloud-gov/pages-core/internal/shutdown"
	pgstore "github.com/cloud-gov/pages-core/internal/store/postgres"
	"github.com/cloud-gov/pages-core/pkg/config"
	"github.com/cloud-gov/pages-core/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)
	slog.SetDefault(log.Logger)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	st, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	githubClient := github.NewClient(&github.Config{
		APIURL:  cfg.GitHub.APIURL,
		Timeout: cfg.Executor.Timeout,
	}, log.WithComponent("github").Logger)

	executorClient := executor.NewClient(&executor.Config{
		Endpoint: cfg.Executor.Endpoint,
		Token:    cfg.Executor.Token,
		Timeout:  cfg.Executor.Timeout,
	}, log.WithComponent("executor").Logger)

	objects, err := logarchive.NewS3Store(&logarchive.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		log.Error("failed to initialize object storage", "error", err)
		os.Exit(1)
	}

	broker := events.NewBroker(log.WithComponent("events").Logger)
	resolver := build.NewResolver(st, githubClient, log.WithComponent("resolver").Logger)
	enqueuer := build.NewEnqueuer(st, executorClient, cfg.APIBaseURL, log.WithComponent("enqueuer").Logger)
	statusSvc := build.NewStatusService(st, broker, githubClient, cfg.GitHub.AuditorToken, log.WithComponent("status").Logger)
	archiver := logarchive.NewArchiver(st, objects, log.WithComponent("logarchive").Logger)

	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.WithComponent("auth").Logger)

	server := api.NewServer(cfg, api.Deps{
		Store:    st,
		Pinger:   st,
		Auth:     authSvc,
		Resolver: resolver,
		Enqueuer: enqueuer,
		Status:   statusSvc,
		Archiver: archiver,
		Broker:   broker,
	}, log.WithComponent("api").Logger)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("store", st))
	coordinator.Register(shutdown.NewFuncComponent("http-server", server.Shutdown))

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
			coordinator.Shutdown()
		}
	}()

	coordinator.WaitForSignal()
	coordinator.Wait()
	os.Exit(coordinator.ExitCode())
}
