package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessionreel/internal/config"
	"sessionreel/internal/logger"
	"sessionreel/internal/metrics"
	"sessionreel/internal/registry"
	"sessionreel/internal/server"
	"sessionreel/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sessionreel",
	Short: "Session recording registry and chunk storage coordinator",
	Long:  `Serves the control channel and retrieval API for session recordings: issues S3 upload/download credentials, tracks chunk metadata, and drives the capture session state machine.`,
	RunE:  runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.Flags().Int("port", 8080, "HTTP/control-channel port")

	// Storage flags
	rootCmd.Flags().String("s3-endpoint", "", "S3-compatible storage endpoint")
	rootCmd.Flags().String("s3-access-key", "", "S3 access key")
	rootCmd.Flags().String("s3-secret-key", "", "S3 secret key")
	rootCmd.Flags().String("s3-bucket", "", "S3 bucket for chunk storage (required)")
	rootCmd.Flags().Bool("s3-secure", true, "Use HTTPS for storage")

	// Registry flags
	rootCmd.Flags().String("db", "./sessions.db", "Session database file")
	rootCmd.Flags().Duration("url-expiry", 15*time.Minute, "Presigned URL lifetime")
	rootCmd.Flags().Bool("verify-uploads", false, "Stat uploaded chunks before acknowledging")

	// Recording flags
	rootCmd.Flags().Duration("chunk-interval", 30*time.Second, "Chunk duration")
	rootCmd.Flags().Int("max-retries", 5, "Maximum upload attempts per chunk")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")

	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	objects, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Secure:    cfg.Storage.Secure,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	store, err := registry.NewSQLiteStore(cfg.Registry.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	collector := metrics.New()
	svc := registry.NewService(store, objects, registry.Options{
		Bucket:        cfg.Storage.Bucket,
		URLExpiry:     cfg.Registry.URLExpiry,
		VerifyUploads: cfg.Registry.VerifyUploads,
	}, collector, log)

	srv := server.New(cfg.Server, svc, collector, cfg.Recording.ChunkInterval, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("bucket", cfg.Storage.Bucket),
			zap.Duration("chunk_interval", cfg.Recording.ChunkInterval),
		)
		errChan <- srv.Listen()
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		log.Info("Received shutdown signal, gracefully stopping...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error shutting down server", zap.Error(err))
		return err
	}

	log.Info("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
