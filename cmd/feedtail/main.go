// feedtail follows a remote _changes feed over websocket and persists the
// entries and a resume checkpoint in PostgreSQL.
// Usage: feedtail --config configs/feedtail.yaml
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mekentosj/changefeed/internal/auth"
	"github.com/mekentosj/changefeed/internal/changes"
	"github.com/mekentosj/changefeed/internal/config"
	"github.com/mekentosj/changefeed/internal/follow"
	"github.com/mekentosj/changefeed/internal/store"
	"github.com/mekentosj/changefeed/internal/tracker"
	"github.com/mekentosj/changefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedtail.yaml", "path to config file")
	once := flag.Bool("once", false, "stop after the feed first catches up")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedtail",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"feed_url", cfg.Feed.URL,
		"filter", cfg.Feed.Filter,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, logger)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready")

	// Resume from the configured sequence, falling back to the checkpoint
	since := changes.ParseSequence(cfg.Feed.Since)
	if since.IsZero() {
		since, err = st.LastCheckpoint(ctx, cfg.Feed.URL)
		if err != nil {
			logger.Error("failed to load checkpoint", "error", err)
			os.Exit(1)
		}
		if !since.IsZero() {
			logger.Info("resuming from checkpoint", "since", since.String())
		}
	}

	// Create the follower (the tracker's consumer)
	follower := follow.New(follow.Config{
		FeedURL:       cfg.Feed.URL,
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
	}, st, logger)

	// Create the tracker
	trackerCfg, err := buildTrackerConfig(cfg, since)
	if err != nil {
		logger.Error("failed to build tracker config", "error", err)
		os.Exit(1)
	}
	tr, err := tracker.New(trackerCfg, follower, logger)
	if err != nil {
		logger.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}
	defer tr.Close()

	if err := follower.Start(ctx); err != nil {
		logger.Error("failed to start follower", "error", err)
		os.Exit(1)
	}
	if err := tr.Start(ctx); err != nil {
		logger.Error("failed to start tracker", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts := tr.Stats()
				fs := follower.Stats()
				logger.Info("stats",
					"state", ts.State,
					"caught_up", ts.CaughtUp,
					"pending", ts.Pending,
					"retries", ts.Retries,
					"received", fs.Received,
					"inserted", fs.Inserted,
					"duplicates", fs.Duplicates,
					"flushes", fs.Flushes,
				)
			}
		}
	}()

	logger.Info("feedtail running", "feed_url", cfg.Feed.URL)

	// Wait for shutdown (or first catch-up in --once mode)
	if *once {
		select {
		case <-follower.CaughtUpChan():
			logger.Info("caught up, stopping")
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down...")

	tr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	follower.Stop(shutdownCtx)

	logger.Info("feedtail stopped")
}

// buildTrackerConfig maps the file configuration onto the tracker.
func buildTrackerConfig(cfg *config.TailConfig, since changes.Sequence) (tracker.Config, error) {
	headers := http.Header{}
	for name, value := range cfg.Feed.Headers {
		headers.Set(name, value)
	}

	var filterParams map[string]any
	if len(cfg.Feed.FilterParams) > 0 {
		filterParams = make(map[string]any, len(cfg.Feed.FilterParams))
		for k, v := range cfg.Feed.FilterParams {
			filterParams[k] = v
		}
	}

	var authorizer auth.Authorizer
	switch {
	case cfg.Auth.Token != "":
		authorizer = auth.NewTokenAuthorizer(cfg.Auth.Token)
	case cfg.Auth.Username != "":
		authorizer = auth.NewBasicAuthorizer(cfg.Auth.Username, cfg.Auth.Password)
	}

	tlsCfg, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return tracker.Config{}, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return tracker.Config{}, fmt.Errorf("create cookie jar: %w", err)
	}

	return tracker.Config{
		DatabaseURL: cfg.Feed.URL,
		Options: changes.FeedOptions{
			Since:        since,
			Filter:       cfg.Feed.Filter,
			FilterParams: filterParams,
			Style:        cfg.Feed.Style,
			Heartbeat:    cfg.Feed.Heartbeat,
			IncludeDocs:  cfg.Feed.IncludeDocs,
		},
		Headers:            headers,
		Heartbeat:          cfg.Feed.Heartbeat,
		Jar:                jar,
		Authorizer:         authorizer,
		TLS:                tlsCfg,
		MaxPendingMessages: cfg.Feed.MaxPending,
		Retry: follow.Backoff{
			Base:       cfg.Retry.BaseDelay,
			Max:        cfg.Retry.MaxDelay,
			MaxRetries: cfg.Retry.MaxRetries,
		}.RetryFunc(),
	}, nil
}

// buildTLSConfig maps the trust settings onto a tls.Config.
func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
