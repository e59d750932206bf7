package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "dockit/app/configs"
	"dockit/app/core/analysis"
	"dockit/app/core/integration"
	"dockit/app/core/integration/gmail"
	"dockit/app/core/integration/jira"
	"dockit/app/core/integration/linear"
	"dockit/app/core/integration/slack"
	"dockit/app/core/orchestrator/aggregator"
	"dockit/app/core/orchestrator/db"
	"dockit/app/core/orchestrator/task"
	"dockit/app/core/scheduler"
	"dockit/app/pkg/logger"
	"dockit/app/pkg/rate"
	"dockit/app/pkg/types"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Dockit Starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB("output/db")
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := task.NewStore(database)

	registry := integration.NewRegistry()
	registerConfiguredSources(registry, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, integ := range registry.All() {
		if err := integ.Connect(ctx); err != nil {
			logger.Error("Failed to connect %s: %v", integ.Source(), err)
			continue
		}
		logger.Info("Connected to %s", integ.Source())
	}
	if len(registry.Connected()) == 0 {
		logger.Error("No source connected; check the sources section of the config")
	}

	analyzer := analysis.NewOpenAIAnalyzer(analysis.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})

	limiter := rate.NewBucket(cfg.Sync.AnalyzeRatePerSec)
	defer limiter.Stop()

	agg := aggregator.New(taskStore, registry, analyzer, limiter, aggregator.Options{
		FetchTimeout:     time.Duration(cfg.Sync.FetchTimeoutSec) * time.Second,
		AnalyzeTimeout:   time.Duration(cfg.Sync.AnalyzeTimeoutSec) * time.Second,
		RateLimitBackoff: time.Duration(cfg.Sync.RateLimitBackoffSec) * time.Second,
	})

	jobScheduler := scheduler.New()
	err = jobScheduler.Register(scheduler.JobSpec{
		Name:       "sync-cycle",
		Interval:   time.Duration(cfg.Sync.IntervalSec) * time.Second,
		RunOnStart: true,
		Run: func(runCtx context.Context) error {
			agg.RunCycle(runCtx)
			return nil
		},
	})
	if err != nil {
		logger.Error("Failed to register sync job: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	logger.Info("Dockit is running, syncing every %ds", cfg.Sync.IntervalSec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Dockit Shutting Down...", sig)
	cancel()
}

// registerConfiguredSources registers only the integrations the config gives
// credentials for.
func registerConfiguredSources(registry *integration.Registry, cfg config.Config) {
	if cfg.Sources.Gmail.CredentialsFile != "" {
		mustRegister(registry, gmail.New(gmail.Config{
			CredentialsFile: cfg.Sources.Gmail.CredentialsFile,
			TokenFile:       cfg.Sources.Gmail.TokenFile,
		}))
	}
	if cfg.Sources.Slack.BotToken != "" {
		mustRegister(registry, slack.New(slack.Config{
			BotToken:  cfg.Sources.Slack.BotToken,
			Workspace: cfg.Sources.Slack.Workspace,
			Channels:  cfg.Sources.Slack.Channels,
		}))
	}
	if cfg.Sources.Jira.BaseURL != "" {
		mustRegister(registry, jira.New(jira.Config{
			BaseURL:  cfg.Sources.Jira.BaseURL,
			Email:    cfg.Sources.Jira.Email,
			APIToken: cfg.Sources.Jira.APIToken,
			JQL:      cfg.Sources.Jira.JQL,
		}))
	}
	if cfg.Sources.Linear.APIKey != "" {
		mustRegister(registry, linear.New(linear.Config{
			APIKey:    cfg.Sources.Linear.APIKey,
			Workspace: cfg.Sources.Linear.Workspace,
		}))
	}
}

func mustRegister(registry *integration.Registry, integ types.SourceIntegration) {
	if err := registry.Register(integ); err != nil {
		logger.Error("Failed to register %s: %v", integ.Source(), err)
	}
}
