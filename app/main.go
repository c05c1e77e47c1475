package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lysyi3m/trustfetch/app/api"
	"github.com/lysyi3m/trustfetch/app/cfg"
	"github.com/lysyi3m/trustfetch/app/community"
	"github.com/lysyi3m/trustfetch/app/database"
	"github.com/lysyi3m/trustfetch/app/feed"
	"github.com/lysyi3m/trustfetch/app/fetch"
	"github.com/lysyi3m/trustfetch/app/identity"
	"github.com/lysyi3m/trustfetch/app/ingest"
	"github.com/lysyi3m/trustfetch/app/safety"
	"github.com/lysyi3m/trustfetch/app/sources"
	"github.com/lysyi3m/trustfetch/app/tasks"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appConfig.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting trustfetch", "version", appConfig.Version)

	db, err := database.NewConnection(appConfig.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appConfig.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appConfig.DBPath, "migration_version", version, "dirty", dirty)

	catalog, err := sources.Load(appConfig.SourcesFile)
	if err != nil {
		slog.Error("Failed to load source catalog", "file", appConfig.SourcesFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Source catalog loaded", "sources", catalog.Len(), "eligible", len(catalog.Eligible()),
		"community", catalog.Community().Enabled)

	validator := safety.NewValidator(nil)
	client := fetch.NewClient(validator,
		fetch.WithUserAgent(appConfig.UserAgent),
		fetch.WithTimeout(appConfig.FetchTimeout),
		fetch.WithMaxBodyBytes(appConfig.MaxBodyBytes),
		fetch.WithHostRateInterval(appConfig.HostRateInterval),
	)

	policy := safety.DefaultPolicy()
	policy.MaxRedirects = appConfig.MaxRedirects

	engine := ingest.NewEngine(
		feed.NewAdapter(client, policy, catalog.AllowedHosts(), time.Now),
		community.NewAdapter(client, policy, catalog.Community(), time.Now),
		time.Now,
	)
	itemRepo := database.NewItemRepository(db)

	if appConfig.Once {
		task := tasks.NewIngestTask(catalog, engine, itemRepo)
		if err := task.Execute(context.Background()); err != nil {
			slog.Error("Ingestion failed", "error", err)
			os.Exit(1)
		}
		return
	}

	trustCache, err := identity.NewTrustCache(appConfig.TrustCacheSize)
	if err != nil {
		slog.Error("Failed to create trust cache", "error", err)
		os.Exit(1)
	}
	verifier := identity.NewVerifier(client, trustCache,
		identity.WithTTL(appConfig.TrustTTL),
		identity.WithPolicy(policy),
	)

	slog.Info("Starting background scheduler", "workers", appConfig.WorkerCount, "interval", appConfig.SchedulerInterval)
	scheduler := tasks.NewScheduler(catalog, engine, itemRepo,
		time.Duration(appConfig.SchedulerInterval)*time.Second, appConfig.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()

	baseURL := strings.TrimRight(appConfig.BaseUrl, "/")
	channel := feed.Channel{
		Link:    baseURL,
		Version: appConfig.Version,
	}
	if baseURL != "" {
		channel.SelfLink = baseURL + "/feed.xml"
	}

	apiHandler := api.NewHandler(catalog, itemRepo, verifier, scheduler, channel)
	server := api.NewServer(apiHandler, appConfig.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("trustfetch shutdown complete")
}
