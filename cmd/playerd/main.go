// Package main provides the playerd entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/podclub/replay/internal/api/httpapi"
	"github.com/podclub/replay/internal/app/session"
	"github.com/podclub/replay/internal/infra/clubapi"
	"github.com/podclub/replay/internal/infra/config"
	"github.com/podclub/replay/internal/infra/engine"
	"github.com/podclub/replay/internal/infra/feeds"
	"github.com/podclub/replay/internal/infra/logger"
	"github.com/podclub/replay/internal/infra/report"
	"github.com/podclub/replay/internal/infra/store"
)

var (
	app        = kingpin.New("playerd", "replay playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/playerd.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	sink, err := report.New(cfg.Report)
	if err != nil {
		return fmt.Errorf("failed to create report sink: %w", err)
	}

	var syncWorker *clubapi.Worker
	if cfg.Sync.Enabled {
		client, err := clubapi.New(ctx, clubapi.Config{
			BaseURL: cfg.Sync.BaseURL,
			Token:   cfg.Sync.Token,
			Timeout: cfg.Sync.Timeout(),
		})
		if err != nil {
			return fmt.Errorf("failed to create club backend client: %w", err)
		}
		syncWorker = clubapi.NewWorker(client, cfg.Sync.QueueSize)
		defer syncWorker.Close()
		zlog.Info().Msgf("progress sync enabled: base_url=%s", cfg.Sync.BaseURL)
	}

	sessionMgr := session.NewManager(cfg, st, eng, sink, syncWorker)
	if err := sessionMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	apiServer := httpapi.NewServer(sessionMgr, feeds.New(), cfg)
	defer apiServer.Close()

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(apiServer.Handler(), &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		sessionMgr.Close()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close the session first so the final position is flushed before
	// the store goes away.
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Daemon stopped")
	return nil
}
