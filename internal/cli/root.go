// Package cli implements the netpush command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/acolita/netpush-mcp/internal/adapters/realdialog"
	"github.com/acolita/netpush-mcp/internal/adapters/realfs"
	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/logging"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/spf13/cobra"
)

// Options replaces the real collaborators, mainly for tests.
type Options struct {
	Connector device.Connector     // nil connects to real devices
	Dialog    ports.DialogProvider // nil runs the form in this terminal
	FS        ports.FileSystem
	Logger    *slog.Logger
}

type app struct {
	opts       Options
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the netpush command line.
func Execute() error {
	return NewRootCmd(Options{}).Execute()
}

// NewRootCmd builds the netpush command tree.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.FS == nil {
		opts.FS = realfs.New()
	}
	if opts.Dialog == nil {
		opts.Dialog = realdialog.NewInline()
	}
	a := &app{opts: opts}

	rootCmd := &cobra.Command{
		Use:   "netpush",
		Short: "Push configuration commands to network devices",
		Long: `netpush sends command lists to network device CLIs over SSH or a local console,
keeping only a window of commands in flight and pacing them by the device prompt.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newPushCmd(a),
		newDeviceCmd(a),
	)
	return rootCmd
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath, a.opts.FS)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.logger = a.opts.Logger
	if a.logger == nil {
		a.logger = logging.New(os.Stderr, cfg.Logging.Level, "text", cfg.Logging.Sanitize)
	}
	return nil
}

func (a *app) service() (*device.Service, error) {
	connector := a.opts.Connector
	if connector == nil {
		connector = device.NewOpenerFromConfig(a.cfg, a.logger)
	}
	return device.NewService(a.cfg, device.ServiceOptions{
		Connector: connector,
		FS:        a.opts.FS,
		Logger:    a.logger,
	})
}
