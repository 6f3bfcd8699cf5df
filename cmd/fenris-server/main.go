// Package main provides the CLI entry point for the Fenris server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	fconfig "github.com/fenrisnet/fenris/internal/config"
	"github.com/fenrisnet/fenris/internal/fserver"
	"github.com/fenrisnet/fenris/internal/health"
	"github.com/fenrisnet/fenris/internal/logging"
	"github.com/fenrisnet/fenris/internal/metrics"
	"github.com/fenrisnet/fenris/internal/sysinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath       string
		port             int
		baseDir          string
		maxConnections   int
		handshakeTimeout int
		idleTimeout      int
		rejectWhenFull   bool
		compressionAlgo  string
		rateLimit        int64
		healthAddr       string
		logLevel         string
		logFormat        string
	)

	cmd := &cobra.Command{
		Use:     "fenris-server",
		Short:   "Run the Fenris file-operations server",
		Version: sysinfo.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fconfig.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlagOverrides(cmd, cfg, flagOverrides{
				port: port, baseDir: baseDir, maxConnections: maxConnections,
				handshakeTimeout: handshakeTimeout, idleTimeout: idleTimeout,
				rejectWhenFull: rejectWhenFull, compressionAlgo: compressionAlgo,
				rateLimit: rateLimit, healthAddr: healthAddr,
				logLevel: logLevel, logFormat: logFormat,
			})
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			return runServer(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "optional YAML config file; flags override it")
	flags.IntVar(&port, "port", 5555, "port to listen on")
	flags.StringVar(&baseDir, "base-dir", "", "sandbox root directory (default: OS temp dir)")
	flags.IntVar(&maxConnections, "max-connections", 1024, "maximum concurrent client connections")
	flags.IntVar(&handshakeTimeout, "handshake-timeout", 10, "handshake timeout in seconds")
	flags.IntVar(&idleTimeout, "idle-timeout", 300, "idle connection timeout in seconds (0 disables)")
	flags.BoolVar(&rejectWhenFull, "reject-when-full", true, "reject new connections immediately at capacity instead of queueing")
	flags.StringVar(&compressionAlgo, "compression", "none", "wire compression codec: none or zstd")
	flags.Int64Var(&rateLimit, "transfer-rate-limit", 0, "transfer rate limit in bytes/sec (0 disables)")
	flags.StringVar(&healthAddr, "health-addr", "", "address for the /healthz and /metrics HTTP endpoints (empty disables)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	return cmd
}

type flagOverrides struct {
	port             int
	baseDir          string
	maxConnections   int
	handshakeTimeout int
	idleTimeout      int
	rejectWhenFull   bool
	compressionAlgo  string
	rateLimit        int64
	healthAddr       string
	logLevel         string
	logFormat        string
}

// applyFlagOverrides layers explicitly-set CLI flags over the loaded
// config file. Flags always win over values loaded from a config file.
func applyFlagOverrides(cmd *cobra.Command, cfg *fconfig.Config, o flagOverrides) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Server.Port = o.port
	}
	if f.Changed("base-dir") {
		cfg.Server.BaseDir = o.baseDir
	}
	if f.Changed("max-connections") {
		cfg.Server.MaxConnections = o.maxConnections
	}
	if f.Changed("handshake-timeout") {
		cfg.Server.HandshakeTimeout = time.Duration(o.handshakeTimeout) * time.Second
	}
	if f.Changed("idle-timeout") {
		cfg.Server.IdleTimeout = time.Duration(o.idleTimeout) * time.Second
	}
	if f.Changed("reject-when-full") {
		cfg.Server.RejectWhenFull = o.rejectWhenFull
	}
	if f.Changed("compression") {
		cfg.Compression.Algorithm = o.compressionAlgo
	}
	if f.Changed("transfer-rate-limit") {
		cfg.Transfer.RateLimitBytesPerSec = o.rateLimit
	}
	if f.Changed("health-addr") {
		cfg.Health.Address = o.healthAddr
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
}

func runServer(cfg *fconfig.Config) error {
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.Default()

	serverCfg := fserver.DefaultServerConfig()
	serverCfg.Address = fmt.Sprintf(":%d", cfg.Server.Port)
	serverCfg.BaseDir = cfg.Server.BaseDir
	serverCfg.MaxConnections = cfg.Server.MaxConnections
	serverCfg.HandshakeTimeout = cfg.Server.HandshakeTimeout
	serverCfg.IdleTimeout = cfg.Server.IdleTimeout
	serverCfg.RejectWhenFull = cfg.Server.RejectWhenFull
	serverCfg.CompressionAlgorithm = cfg.Compression.Algorithm
	serverCfg.CompressionLevel = cfg.Compression.Level
	serverCfg.TransferRateLimitBytesPerSec = cfg.Transfer.RateLimitBytesPerSec

	srv := fserver.NewServer(serverCfg, logger, m)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("fenris-server listening", logging.KeyAddress, srv.Address().String())

	var healthSrv *health.Server
	if cfg.Health.Address != "" {
		healthCfg := health.DefaultServerConfig()
		healthCfg.Address = cfg.Health.Address
		healthSrv = health.NewServer(healthCfg, srv)
		if err := healthSrv.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		logger.Info("health endpoint listening", logging.KeyAddress, cfg.Health.Address)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return shutdown(ctx, srv, healthSrv, logger)
}

func shutdown(ctx context.Context, srv *fserver.Server, healthSrv *health.Server, logger *slog.Logger) error {
	done := make(chan error, 1)
	go func() {
		if healthSrv != nil {
			healthSrv.Stop()
		}
		done <- srv.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("fenris-server stopped cleanly")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
