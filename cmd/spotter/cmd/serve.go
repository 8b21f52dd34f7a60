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

	"github.com/MeKo-Tech/spotter/internal/config"
	"github.com/MeKo-Tech/spotter/internal/server"
	"github.com/spf13/cobra"
)

const rateLimitSweepInterval = 5 * time.Minute

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the detection API",
	Long: `Start an HTTP server that provides REST and websocket endpoints for object detection.

The server provides the following endpoints:
  POST /detect/image - Detect objects in an uploaded image
  GET  /ws/detect    - Stream binary frames, receive detections per frame
  GET  /health       - Health check endpoint
  GET  /models       - Known models and the loaded configuration
  GET  /labels       - Label table in use
  GET  /metrics      - Prometheus metrics

Examples:
  spotter serve
  spotter serve --port 8080
  spotter serve --host 0.0.0.0 --port 3000 --pool-size 4 --frame-timeout-ms 250`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyServeOverrides(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		serverConfig := newServerConfig(cfg)
		srv, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = srv.Close() }()

		if rl := srv.RateLimiter(); rl != nil {
			go rl.RunSweeper(ctx, rateLimitSweepInterval)
		}

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(serverConfig.TimeoutSec) * time.Second,
			// No WriteTimeout: websocket streams are long-lived. Handlers
			// bound their own work by the request timeout.
		}

		go func() {
			slog.Info("Starting detection server", "host", serverConfig.Host, "port", serverConfig.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeOverrides copies explicitly set serve flags into cfg. Detector
// flags share config keys with the image command, so they are read here
// instead of being bound to viper a second time.
func applyServeOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Detector.ModelPath, _ = flags.GetString("model")
	}
	if flags.Changed("labels") {
		cfg.Detector.LabelsPath, _ = flags.GetString("labels")
	}
	if flags.Changed("confidence") {
		cfg.Detector.MinConfidence, _ = flags.GetFloat64("confidence")
	}
	if flags.Changed("top-hits") {
		cfg.Detector.TopHits, _ = flags.GetInt("top-hits")
	}
	if flags.Changed("frame-timeout-ms") {
		cfg.Detector.FrameTimeoutMs, _ = flags.GetInt("frame-timeout-ms")
	}
	if flags.Changed("warmup") {
		cfg.Detector.WarmupIterations, _ = flags.GetInt("warmup")
	}
	if flags.Changed("gpu") {
		cfg.GPU.Enabled, _ = flags.GetBool("gpu")
	}
}

// newServerConfig maps the loaded configuration onto the server.
func newServerConfig(cfg *config.Config) server.Config {
	s := cfg.Server
	return server.Config{
		Host:                s.Host,
		Port:                s.Port,
		CORSOrigin:          s.CORSOrigin,
		MaxUploadMB:         int64(s.MaxUploadMB),
		TimeoutSec:          s.TimeoutSec,
		ConfidencePrecision: cfg.Output.ConfidencePrecision,
		PipelineConfig:      cfg.ToPipelineConfig(),
		PoolSize:            s.PoolSize,
		AcquireTimeout:      time.Duration(s.AcquireTimeoutSec) * time.Second,
		RateLimitEnabled:    s.RateLimitEnabled,
		RequestsPerMinute:   s.RequestsPerMinute,
		RequestsPerHour:     s.RequestsPerHour,
		MaxRequestsPerDay:   s.MaxRequestsPerDay,
		MaxDataPerDay:       s.MaxDataPerDayBytes,
	}
}

// bindServeFlags binds server flags to viper configuration keys.
func bindServeFlags(cmd *cobra.Command) {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"server.host", "host"},
		{"server.port", "port"},
		{"server.cors_origin", "cors-origin"},
		{"server.max_upload_mb", "max-upload-size"},
		{"server.timeout_sec", "timeout"},
		{"server.shutdown_timeout", "shutdown-timeout"},
		{"server.pool_size", "pool-size"},
		{"server.acquire_timeout_sec", "acquire-timeout"},
		{"server.rate_limit_enabled", "rate-limit-enabled"},
		{"server.requests_per_minute", "requests-per-minute"},
		{"server.requests_per_hour", "requests-per-hour"},
		{"server.max_requests_per_day", "max-requests-per-day"},
		{"server.max_data_per_day", "max-data-per-day"},
	}
	for _, binding := range flagBindings {
		mustBind(binding.key, cmd.Flags().Lookup(binding.flag))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("pool-size", 1, "pipelines kept loaded; each request or stream holds one")
	serveCmd.Flags().Int("acquire-timeout", 5, "seconds a request waits for a free pipeline")
	// Detector overrides
	serveCmd.Flags().String("model", "", "override detection model path")
	serveCmd.Flags().String("labels", "", "label file, one class name per line (default: built-in COCO)")
	serveCmd.Flags().Float64("confidence", 0.5, "minimum detection confidence (0..1)")
	serveCmd.Flags().Int("top-hits", 0, "consider only the first N network candidates (0=all)")
	serveCmd.Flags().Int("frame-timeout-ms", 0, "per-frame inference deadline in milliseconds (0=none)")
	serveCmd.Flags().Int("warmup", 1, "warmup passes per pipeline at startup")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0=unlimited)")
	serveCmd.Flags().Int64("max-data-per-day", 0, "maximum bytes uploaded per day per client (0=unlimited)")

	bindServeFlags(serveCmd)
}
