package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sheetsink/internal/config"
	"sheetsink/internal/db"
	"sheetsink/internal/metrics"
	"sheetsink/internal/notify"
	"sheetsink/internal/progress"
	"sheetsink/internal/server"
	"sheetsink/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP server",
	Long: `Start the HTTP server: accepts spreadsheet uploads on /process,
reports job progress on /progress/{jobId}, and pushes updates over the
configured socket and webhook channels.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	client, err := db.NewClient(ctx, db.Config{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.MaxConns,
		MinConns:       cfg.MinConns,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer client.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = client.InitSchema(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	store := progress.NewStore(cfg.ProgressTTL, logger)
	defer store.Close()

	var socket *notify.Socket
	if cfg.SocketURL != "" {
		socket = notify.NewSocket(cfg.SocketURL, logger)
		if err := socket.Connect(); err != nil {
			// Events fall back to the webhook until a redial succeeds.
			logger.Warn("socket unavailable at startup", "url", cfg.SocketURL, "error", err)
		}
		defer socket.Close()
	}
	var webhook *notify.Webhook
	if cfg.WebhookEndpoint != "" {
		webhook = notify.NewWebhook(cfg.WebhookEndpoint, cfg.WebhookTimeout, logger)
	}
	dispatcher := notify.NewDispatcher(socket, webhook, cfg.NotifyBuffer, logger)

	pool := service.NewPool(cfg.Workers, logger)
	collector := metrics.NewCollector()

	orch := service.NewOrchestrator(client, store, dispatcher, pool, service.Options{
		BatchSize: cfg.BatchSize,
		TempDir:   cfg.TempDir,
		Collector: collector,
		Logger:    logger,
	})

	srv := server.New(cfg.ListenAddr, orch, store, collector, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Let queued persistence runs finish before the pool and notifier close.
	pool.Close()
	dispatcher.Close()

	logger.Info("server stopped")
	return nil
}
