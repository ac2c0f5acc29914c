// Package main provides the entry point for the scheduled job worker.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/integrations/executor"
	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/jobs"
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

	archiver := logarchive.NewArchiver(st, objects, log.WithComponent("logarchive").Logger)

	// One-shot invocation: `worker archiveBuildLogs 2026-08-30` backfills a
	// single day's log archival and exits.
	if len(os.Args) > 2 && os.Args[1] == "archiveBuildLogs" {
		date, err := time.Parse("2006-01-02", os.Args[2])
		if err != nil {
			log.Error("invalid archive date", "date", os.Args[2], "error", err)
			os.Exit(1)
		}
		job := jobs.NewArchiveBuildLogs(st, archiver, cfg.Jobs.ArchiveWindow, cfg.Jobs.Concurrency)
		result, err := job.RunForDate(context.Background(), date)
		if err != nil {
			log.Error("archiveBuildLogs failed", "error", err)
			os.Exit(1)
		}
		log.Info("archiveBuildLogs finished", "date", date.Format("2006-01-02"), "summary", result.Summary())
		st.Close()
		if result.Err() != nil {
			os.Exit(1)
		}
		return
	}

	resolver := build.NewResolver(st, githubClient, log.WithComponent("resolver").Logger)
	enqueuer := build.NewEnqueuer(st, executorClient, cfg.APIBaseURL, log.WithComponent("enqueuer").Logger)
	sweeper := build.NewSweeper(st, executorClient, cfg.Build.Timeout, cfg.Build.TaskedTimeout, log.WithComponent("sweeper").Logger)

	runner := jobs.NewRunner(cfg.Jobs.Concurrency, jobs.WithRunnerLogger(log.WithComponent("jobs").Logger))

	catalog := []jobs.Job{
		{
			Name:     "nightlyBuilds",
			Schedule: cfg.Jobs.Schedules["nightlyBuilds"],
			Run: jobs.NewNightlyBuilds(st, resolver, enqueuer,
				cfg.GitHub.AuditorUsername, cfg.Jobs.Concurrency,
				log.WithJob("nightlyBuilds").Logger).Run,
		},
		{
			Name:     "timeoutBuilds",
			Schedule: cfg.Jobs.Schedules["timeoutBuilds"],
			Run:      jobs.NewTimeoutBuilds(sweeper).Run,
		},
		{
			Name:     "archiveBuildLogsDaily",
			Schedule: cfg.Jobs.Schedules["archiveBuildLogsDaily"],
			Run:      jobs.NewArchiveBuildLogs(st, archiver, cfg.Jobs.ArchiveWindow, cfg.Jobs.Concurrency).Run,
		},
		{
			Name:     "verifyRepos",
			Schedule: cfg.Jobs.Schedules["verifyRepos"],
			Run: jobs.NewVerifyRepos(st, githubClient, cfg.Jobs.Concurrency,
				log.WithJob("verifyRepos").Logger).Run,
		},
		{
			Name:     "revokeMembershipForInactiveUsers",
			Schedule: cfg.Jobs.Schedules["revokeMembershipForInactiveUsers"],
			Run: jobs.NewRevokeInactiveMembers(st, githubClient,
				cfg.GitHub.Organization, cfg.GitHub.AuditorToken,
				cfg.Jobs.InactivityCutoff, cfg.Jobs.Concurrency,
				log.WithJob("revokeMembershipForInactiveUsers").Logger).Run,
		},
	}

	for _, job := range catalog {
		if cfg.Jobs.IsDisabled(job.Name) {
			log.Info("job disabled by configuration", "job", job.Name)
			continue
		}
		if err := runner.Register(job); err != nil {
			log.Error("failed to register job", "job", job.Name, "error", err)
			os.Exit(1)
		}
		log.Info("job registered", "job", job.Name, "schedule", job.Schedule)
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("store", st))
	coordinator.Register(shutdown.NewFuncComponent("job-runner", func(ctx context.Context) error {
		return runner.Stop(ctx)
	}))

	runner.Start()
	log.Info("job worker started", "concurrency", cfg.Jobs.Concurrency)

	coordinator.WaitForSignal()
	coordinator.Wait()
	os.Exit(coordinator.ExitCode())
}
