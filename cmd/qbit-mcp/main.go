// qbit-mcp exposes a qBittorrent instance as MCP tools over stdio, so any
// MCP-compatible AI host can list, inspect, add, control and search torrents.
//
// Add to an MCP host configuration:
//
//	{
//	  "mcpServers": {
//	    "qbittorrent": {
//	      "command": "/path/to/qbit-mcp",
//	      "args": ["--url", "http://localhost:8080"],
//	      "env": {"QB_MCP_QBITTORRENT_PASSWORD": "..."}
//	    }
//	  }
//	}
//
// All logging goes to stderr so it does not interfere with the protocol.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/qbittorrent-mcp/internal/config"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/health"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/httpapi"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/mcpbridge"
	"github.com/jmerrifield20/qbittorrent-mcp/internal/metrics"
	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const serverName = "qbit-mcp"

var (
	cfgFile string
	v       = viper.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   serverName,
	Short: "MCP server for qBittorrent",
	Long: `qbit-mcp is a stdio MCP server that exposes six qBittorrent tools to any
MCP-compatible AI host:

  qb_list_torrents    list torrents, optionally filtered by state or category
  qb_torrent_info     properties, files and trackers of one torrent
  qb_add_torrent      add torrents from magnet links or .torrent URLs
  qb_control_torrent  pause, resume or delete torrents
  qb_search_torrents  run a search through the installed search plugins
  qb_get_preferences  read application preferences

Settings come from flags, QB_MCP_* environment variables and an optional
qbit-mcp.yaml. The password is read from QB_MCP_QBITTORRENT_PASSWORD or the
config file only.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./qbit-mcp.yaml or ./configs/qbit-mcp.yaml)")
	pf.String("url", "", "qBittorrent Web UI base URL")
	pf.String("username", "", "qBittorrent Web UI username")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("insecure", false, "Skip TLS certificate verification (development only)")
	rootCmd.Flags().String("http-addr", "", "also serve tools, /healthz and /metrics over HTTP on this address")

	_ = v.BindPFlag(config.KeyURL, pf.Lookup("url"))
	_ = v.BindPFlag(config.KeyUsername, pf.Lookup("username"))
	_ = v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyInsecureSkipVerify, pf.Lookup("insecure"))
	_ = v.BindPFlag(config.KeyHTTPAddr, rootCmd.Flags().Lookup("http-addr"))

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── serve ────────────────────────────────────────────────────────────────────

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("create qBittorrent client: %w", err)
	}
	defer closeClient(c, cfg.RequestTimeout, logger)

	tools := mcpbridge.NewToolRegistry(c,
		mcpbridge.WithLogger(logger),
		mcpbridge.WithRecorder(metrics.RecordToolCall),
	)

	checker := health.New(c, health.Config{
		CheckInterval: cfg.HealthInterval,
		ProbeTimeout:  cfg.RequestTimeout,
		FailThreshold: cfg.HealthFailThreshold,
	}, logger)
	checker.SetMetricsRecord(metrics.RecordHealthCheck)
	checker.SetStateChange(metrics.SetBackendUp)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		checker.Start(gctx)
		return nil
	})

	if cfg.HTTPAddr != "" {
		router := httpapi.NewRouter(gctx, httpapi.Options{
			Tools:        tools,
			Health:       checker,
			Logger:       logger,
			CORSOrigins:  cfg.CORSOrigins,
			RateLimitRPS: cfg.HTTPRateLimitRPS,
		})
		g.Go(func() error {
			return httpapi.Run(gctx, cfg.HTTPAddr, router, logger)
		})
	}

	server := mcpbridge.NewServer(os.Stdout, tools, mcpbridge.ServerInfo{Name: serverName, Version: version}, logger)
	logger.Info("qBittorrent MCP server ready", cfg.Fields()...)

	// Serve blocks reading stdin and is not waited for on shutdown.
	served := make(chan error, 1)
	go func() { served <- server.Serve(gctx, os.Stdin) }()

	var serveErr error
	select {
	case serveErr = <-served:
		logger.Info("stdin closed, shutting down")
	case <-gctx.Done():
		logger.Info("shutting down")
	}
	cancel()

	if err := g.Wait(); err != nil {
		return err
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func newClient(cfg *config.Config, logger *zap.Logger) (*client.Client, error) {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithObserver(metrics.BackendObserver{}),
		client.WithSearchPolling(cfg.SearchPollInterval, cfg.SearchMaxWait),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, client.WithInsecureSkipVerify())
		logger.Warn("TLS verification disabled, do not use in production")
	}
	return client.New(credentials(cfg), opts...)
}

func credentials(cfg *config.Config) client.Credentials {
	return client.Credentials{
		BaseURL:        cfg.QBittorrentURL,
		Username:       cfg.Username,
		Password:       cfg.Password,
		RequestTimeout: cfg.RequestTimeout,
	}
}

func closeClient(c *client.Client, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		logger.Warn("logout failed", zap.Error(err))
	}
}

// ── check ────────────────────────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Log in to qBittorrent and print the application version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		opts := []client.Option{client.WithLogger(logger)}
		if cfg.InsecureSkipVerify {
			opts = append(opts, client.WithInsecureSkipVerify())
		}
		return client.Scoped(cmd.Context(), credentials(cfg), func(ctx context.Context, c *client.Client) error {
			ver, err := c.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s (qBittorrent %s)\n", c.BaseURL(), ver)
			return nil
		}, opts...)
	},
}

// ── tools ────────────────────────────────────────────────────────────────────

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(mcpbridge.NewToolRegistry(nil).Definitions())
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the qbit-mcp version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serverName, version)
	},
}
