package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/spf13/cobra"
)

func newDeviceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage configured devices",
	}

	cmd.AddCommand(
		newDeviceListCmd(a),
		newDeviceAddCmd(a),
	)

	return cmd
}

func newDeviceListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODE\tTARGET\tPROMPT")
			for _, d := range svc.Devices() {
				target := d.Address
				if d.User != "" {
					target = d.User + "@" + d.Address
				}
				if d.Mode == config.ModeLocal {
					target = d.Command
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Mode, target, d.Prompt)
			}
			return tw.Flush()
		},
	}
}

func newDeviceAddCmd(a *app) *cobra.Command {
	prefill := ports.DeviceFormData{Mode: config.ModeSSH, Port: 22}

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a device through an interactive form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return errors.New("no configuration path; pass --config")
			}
			prefill.Name = args[0]
			if prefill.Mode != config.ModeSSH && prefill.Mode != config.ModeLocal {
				return fmt.Errorf("--mode must be %q or %q", config.ModeSSH, config.ModeLocal)
			}
			if _, exists := a.cfg.Device(prefill.Name); exists {
				return fmt.Errorf("device %q already exists in %s", prefill.Name, a.configPath)
			}

			result, err := a.opts.Dialog.DeviceConfigForm(prefill)
			if err != nil {
				return err
			}
			if !result.Confirmed {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
				return err
			}

			dev := config.DeviceFromForm(result)
			if err := dev.Validate(); err != nil {
				return err
			}
			if err := a.cfg.AddDevice(dev); err != nil {
				return err
			}
			if err := config.Save(a.cfg, a.configPath, a.opts.FS); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved device %s to %s\n", dev.Name, a.configPath)
			return err
		},
	}

	cmd.Flags().StringVar(&prefill.Mode, "mode", prefill.Mode, "Connection mode: ssh or local")
	cmd.Flags().StringVar(&prefill.Host, "host", "", "Hostname or IP address")
	cmd.Flags().IntVar(&prefill.Port, "port", prefill.Port, "SSH port")
	cmd.Flags().StringVar(&prefill.User, "user", "", "Login user")
	cmd.Flags().StringVar(&prefill.KeyPath, "key", "", "Private key path")
	cmd.Flags().StringVar(&prefill.PasswordEnv, "password-env", "", "Environment variable holding the password")
	cmd.Flags().StringVar(&prefill.Command, "command", "", "Console command for local mode")
	cmd.Flags().StringVar(&prefill.Prompt, "prompt", "", "Start of the device prompt if it differs from the name")
	cmd.Flags().IntVar(&prefill.ChunkSize, "chunk-size", 0, "Per-device window size")

	return cmd
}
