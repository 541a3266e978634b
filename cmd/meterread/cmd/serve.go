package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/meterread/internal/server"
	"github.com/MeKo-Tech/meterread/internal/version"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the meter reading API",
	Long: `Start an HTTP server that exposes both pipelines.

The server provides the following endpoints:
  GET  /health          - Health check endpoint
  GET  /models          - List known models and pipeline settings
  GET  /metrics         - Prometheus metrics
  POST /read/image      - Still-image pipeline on an uploaded photo
  POST /read/frame      - Offer one frame to the streaming pipeline
  GET  /reading/latest  - Latest streaming reading
  GET  /reading/history - Recent distinct streaming readings
  POST /reading/confirm - Build a meter reading from a chosen candidate
  GET  /ws/stream       - WebSocket: frames in, readings out

Examples:
  meterread serve
  meterread serve --port 8080
  meterread serve --host 0.0.0.0 --port 3000`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		host := cfg.Server.Host
		port := cfg.Server.Port
		timeout := cfg.Server.TimeoutSec
		shutdownTimeout := cfg.Server.ShutdownTimeout

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}

		srv, err := server.NewServer(server.Config{
			Host:        host,
			Port:        port,
			CORSOrigin:  cfg.Server.CORSOrigin,
			MaxUploadMB: int64(cfg.Server.MaxUploadMB),
			TimeoutSec:  timeout,
			Reading:     cfg.ReadingOptions(),
		}, p, ocrBackend(cfg))
		if err != nil {
			_ = p.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		go srv.Run(ctx)

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting meter reading server", "host", host, "port", port, "version", version.String())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		<-ctx.Done()
		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("serialize-inference", false, "run at most one model call at a time")
	bindFlags(serveCmd.Flags(), []flagBinding{
		{"server.host", "host"},
		{"server.port", "port"},
		{"server.cors_origin", "cors-origin"},
		{"server.max_upload_mb", "max-upload-size"},
		{"server.timeout_sec", "timeout"},
		{"server.shutdown_timeout", "shutdown-timeout"},
		{"models.serialize_inference", "serialize-inference"},
	})
}
