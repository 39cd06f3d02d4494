package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedshed/feedshed/app/api"
	"github.com/feedshed/feedshed/app/cfg"
	"github.com/feedshed/feedshed/app/config"
	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/feed"
	"github.com/feedshed/feedshed/app/proxy"
	"github.com/feedshed/feedshed/app/sanitize"
	"github.com/feedshed/feedshed/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return // help was shown
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Feedshed", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	postRepo := database.NewPostRepository(db)
	proxyRepo := database.NewProxyRepository(db)

	if err := syncRegistry(appCfg.SourcesDir, sourceRepo); err != nil {
		slog.Error("Failed to sync source registry", "error", err)
		os.Exit(1)
	}

	policy := sanitize.DefaultPolicy()
	if appCfg.SanitizePolicyFile != "" {
		policy, err = sanitize.LoadPolicy(appCfg.SanitizePolicyFile)
		if err != nil {
			slog.Error("Failed to load sanitize policy", "file", appCfg.SanitizePolicyFile, "error", err)
			os.Exit(1)
		}
	}
	sanitizer := sanitize.New(policy)

	importer := feed.NewImporter(postRepo, sanitizer)
	pool := proxy.NewPool(proxyRepo)
	fetcher := feed.NewFetcher(sourceRepo, importer, pool)
	contentExtractor := feed.NewContentExtractor(sanitizer)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	slog.Info("Starting scheduler", "workers", appCfg.WorkerCount, "interval_seconds", appCfg.SchedulerInterval)
	scheduler := tasks.NewScheduler(sourceRepo, postRepo, proxyRepo, fetcher, contentExtractor, httpClient)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(sourceRepo, postRepo, proxyRepo, scheduler, appCfg.Version)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}

// syncRegistry registers the YAML source registry in the database.
// Registry files own identity, endpoint and scrape configuration;
// everything else on a source is runtime state and is left alone.
func syncRegistry(dir string, sourceRepo database.SourceRepository) error {
	loader := config.NewLoader(dir)
	configs, err := loader.LoadAll()
	if err != nil {
		return err
	}

	slog.Info("Loaded source configurations", "count", len(configs), "dir", dir)

	registered := 0
	for slug, sc := range configs {
		src := &database.Source{
			Slug:           slug,
			Name:           sc.Source.Name,
			FeedURL:        sc.Source.FeedURL,
			SiteURL:        sc.Source.SiteURL,
			NumSubs:        sc.Settings.NumSubs,
			Live:           true,
			UpdateEnabled:  true,
			ExtractContent: sc.Settings.ExtractContent,
		}
		if sc.Scrape != nil {
			src.ItemSelector = sc.Scrape.Item
			src.LinkSelector = sc.Scrape.Link
			src.TitleSelector = sc.Scrape.Title
			src.DateSelector = sc.Scrape.Date
		}

		id, urlChanged, err := sourceRepo.UpsertSourceConfig(src)
		if err != nil {
			slog.Warn("Failed to register source", "slug", slug, "error", err)
			continue
		}

		if urlChanged {
			slog.Info("Source URL updated", "slug", slug, "id", id, "url", sc.Source.FeedURL)
		} else {
			slog.Debug("Registered source", "slug", slug, "id", id, "url", sc.Source.FeedURL)
		}
		registered++
	}

	slog.Info("Source registry synced", "registered", registered, "total", len(configs))
	return nil
}
