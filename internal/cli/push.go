package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/acolita/netpush-mcp/internal/cmdset"
	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/driver"
	"github.com/acolita/netpush-mcp/internal/recovery"
	"github.com/spf13/cobra"
)

type pushFlags struct {
	device     string
	files      []string
	remote     bool
	chunkSize  int
	timeout    time.Duration
	hostSplice int
	asJSON     bool
	transcript bool
}

func newPushCmd(a *app) *cobra.Command {
	var f pushFlags

	cmd := &cobra.Command{
		Use:   "push [command]...",
		Short: "Push commands to a device",
		Long: `Push commands to a device.

Commands come from the arguments, from --file (repeatable, doublestar globs),
or from stdin when neither is given. Blank lines and lines starting with '!'
or '#' are skipped.`,
		Example: `  netpush push --device core1 "interface ge-0/0/1" " description uplink" exit
  netpush push --device core1 --file 'site/**/*.cfg'
  netpush push --device core1 --remote --file /flash/golden.cfg
  netpush push --device sw1 --chunk-size 1 < vlans.cfg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.chunkSize < 0 || f.timeout < 0 || f.hostSplice < 0 {
				return errors.New("--chunk-size, --timeout and --host-splice must not be negative")
			}
			if len(args) > 0 && len(f.files) > 0 {
				return errors.New("give commands as arguments or with --file, not both")
			}
			if f.remote && len(f.files) == 0 {
				return errors.New("--remote requires --file")
			}

			svc, err := a.service()
			if err != nil {
				return err
			}

			var res *device.Result
			if len(f.files) > 0 {
				res, err = svc.PushFiles(cmd.Context(), device.FileRequest{
					Device:     f.device,
					Patterns:   f.files,
					Remote:     f.remote,
					ChunkSize:  f.chunkSize,
					Timeout:    f.timeout,
					HostSplice: f.hostSplice,
				})
			} else {
				commands := args
				if len(commands) == 0 {
					if commands, err = cmdset.Parse(cmd.InOrStdin()); err != nil {
						return fmt.Errorf("read commands from stdin: %w", err)
					}
				}
				if len(commands) == 0 {
					return errors.New("no commands to push")
				}
				res, err = svc.Push(cmd.Context(), device.PushRequest{
					Device:     f.device,
					Commands:   commands,
					ChunkSize:  f.chunkSize,
					Timeout:    f.timeout,
					HostSplice: f.hostSplice,
				})
			}

			var driverRes *driver.Result
			if res != nil && res.Result != nil {
				driverRes = res.Result
				if werr := writePushResult(cmd.OutOrStdout(), res, f); werr != nil && err == nil {
					err = werr
				}
			}
			for _, s := range recovery.NewAnalyzer().Analyze(err, driverRes) {
				fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s: %s\n", s.Problem, s.Hint)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&f.device, "device", "d", "", "Device name from the configuration")
	cmd.Flags().StringArrayVarP(&f.files, "file", "f", nil, "Command file or glob (repeatable)")
	cmd.Flags().BoolVar(&f.remote, "remote", false, "Read --file from the device over SFTP")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Commands in flight before a prompt must come back")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Time without a prompt after which one command is assumed done")
	cmd.Flags().IntVar(&f.hostSplice, "host-splice", 0, "Leading prompt characters that identify a prompt line")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&f.transcript, "transcript", false, "Print the session transcript")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func writePushResult(w io.Writer, res *device.Result, f pushFlags) error {
	if f.asJSON {
		out := *res
		if !f.transcript {
			r := *res.Result
			r.Transcript = ""
			out.Result = &r
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if f.transcript {
		if _, err := fmt.Fprintln(w, res.Transcript); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s: sent %d, remaining %d (prompt acks %d, timeout acks %d) in %s\n",
		res.Device, res.Sent, res.Remaining, res.Stats.PromptAcks, res.Stats.TimeoutAcks,
		res.Duration.Round(time.Millisecond))
	if err == nil && res.Recording != "" {
		_, err = fmt.Fprintf(w, "recording: %s\n", res.Recording)
	}
	return err
}
