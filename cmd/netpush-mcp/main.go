// netpush-mcp is an MCP server that pushes configuration commands to network devices.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/netpush-mcp/internal/adapters/realdialog"
	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/logging"
	"github.com/acolita/netpush-mcp/internal/mcp"
	"github.com/acolita/netpush-mcp/internal/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
		debug       bool
		formHelper  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging, including window admissions")
	flag.BoolVar(&formHelper, "form", false, "Run the device form (used internally by device_add)")
	flag.Parse()

	if formHelper {
		if err := realdialog.RunFormHelper(); err != nil {
			fmt.Fprintf(os.Stderr, "form: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("netpush-mcp version %s\n", version.Version)
		fmt.Printf("  Build time: %s\n", version.BuildTime)
		fmt.Printf("  Git commit: %s\n", version.GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sanitize)
	logger.Info("starting netpush-mcp",
		slog.String("version", version.Version),
		slog.Int("devices", len(cfg.Devices)),
	)

	svc, err := device.NewService(cfg, device.ServiceOptions{
		Connector: device.NewOpenerFromConfig(cfg, logger),
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting device service: %v\n", err)
		os.Exit(1)
	}

	opts := []mcp.ServerOption{
		mcp.WithLogger(logger),
		mcp.WithVersion(version.Version),
	}
	if configPath != "" {
		opts = append(opts, mcp.WithConfigPath(configPath))
	}
	server := mcp.NewServer(cfg, svc, opts...)

	var configWatcher *config.Watcher
	if configPath != "" {
		var watcherErr error
		configWatcher, watcherErr = config.NewWatcher(configPath, logger, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if watcherErr != nil {
			logger.Warn("config hot-reload disabled", slog.String("error", watcherErr.Error()))
		} else {
			logger.Info("config hot-reload enabled", slog.String("path", configPath))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		if configWatcher != nil {
			configWatcher.Close()
		}
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		if configWatcher != nil {
			configWatcher.Close()
		}
		os.Exit(1)
	}
}
