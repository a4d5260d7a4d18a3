package realdialog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/acolita/netpush-mcp/internal/security"
	"github.com/charmbracelet/huh"
)

// RunFormHelper is the entry point of the --form helper process. It reads the
// encrypted prefill, shows the form in its own terminal, writes the encrypted
// result back and then the done marker.
func RunFormHelper() error {
	formFile := os.Getenv(envFormFile)
	formKey := os.Getenv(envFormKey)
	if formFile == "" || formKey == "" {
		return fmt.Errorf("missing %s or %s", envFormFile, envFormKey)
	}

	s, err := newSealer(formKey)
	if err != nil {
		return err
	}

	prefill, err := readSealed(s, formFile)
	if err != nil {
		writeDone(formFile, err.Error())
		return err
	}

	fmt.Print("\033[2J\033[H")
	fmt.Println("\n  netpush: add device")

	result, err := RunForm(prefill)
	if err != nil {
		writeDone(formFile, err.Error())
		return fmt.Errorf("form: %w", err)
	}

	if err := writeSealed(s, formFile, result); err != nil {
		writeDone(formFile, err.Error())
		return err
	}
	return writeDone(formFile, doneOK)
}

// RunForm shows the device form on the current terminal.
func RunForm(prefill ports.DeviceFormData) (ports.DeviceFormData, error) {
	in := newFormInput(prefill)
	if err := in.form().Run(); err != nil {
		return prefill, err
	}
	return in.result()
}

// formInput holds the form fields as edited strings.
type formInput struct {
	data      ports.DeviceFormData
	port      string
	chunkSize string
	confirmed bool
}

func newFormInput(prefill ports.DeviceFormData) *formInput {
	in := &formInput{data: prefill, port: "22"}
	if in.data.Mode == "" {
		in.data.Mode = "ssh"
	}
	if prefill.Port != 0 {
		in.port = strconv.Itoa(prefill.Port)
	}
	if prefill.ChunkSize != 0 {
		in.chunkSize = strconv.Itoa(prefill.ChunkSize)
	}
	return in
}

func (in *formInput) form() *huh.Form {
	isLocal := func() bool { return in.data.Mode == "local" }

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Device Name").
				Description("Short name used by push requests (e.g. 'core1')").
				Validate(validateName).
				Value(&in.data.Name),
			huh.NewSelect[string]().
				Title("Connection").
				Options(
					huh.NewOption("SSH", "ssh"),
					huh.NewOption("Local console command (telnet, screen, cu)", "local"),
				).
				Value(&in.data.Mode),
			huh.NewInput().
				Title("Prompt").
				Description("Start of the device prompt; empty uses the device name").
				Value(&in.data.Prompt),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Description("Hostname or IP address").
				Value(&in.data.Host),
			huh.NewInput().
				Title("Port").
				Validate(validatePort).
				Value(&in.port),
			huh.NewInput().
				Title("User").
				Value(&in.data.User),
			huh.NewInput().
				Title("SSH Key Path").
				Description("Private key; leave empty for ssh-agent or password").
				Value(&in.data.KeyPath),
			huh.NewInput().
				Title("Password Env Var").
				Description("Environment variable holding the login password (optional)").
				Value(&in.data.PasswordEnv),
		).WithHideFunc(isLocal),
		huh.NewGroup(
			huh.NewInput().
				Title("Console Command").
				Description("e.g. 'screen /dev/ttyUSB0 9600' or 'telnet 192.0.2.5 2003'").
				Value(&in.data.Command),
		).WithHideFunc(func() bool { return !isLocal() }),
		huh.NewGroup(
			huh.NewInput().
				Title("Chunk Size").
				Description("Commands in flight at once; empty uses the default").
				Validate(validateChunkSize).
				Value(&in.chunkSize),
			huh.NewConfirm().
				Title("Save this device?").
				Value(&in.confirmed),
		),
	)
}

// result converts the edited fields back into form data.
func (in *formInput) result() (ports.DeviceFormData, error) {
	out := in.data
	out.Confirmed = in.confirmed
	out.Port = 0
	out.ChunkSize = 0

	if out.Mode == "ssh" {
		port, err := parseOptionalInt(in.port)
		if err != nil {
			return out, fmt.Errorf("port: %w", err)
		}
		out.Port = port
		out.Command = ""
	} else {
		out.Host, out.User, out.KeyPath, out.PasswordEnv = "", "", "", ""
	}

	chunk, err := parseOptionalInt(in.chunkSize)
	if err != nil {
		return out, fmt.Errorf("chunk size: %w", err)
	}
	out.ChunkSize = chunk
	return out, nil
}

func validateName(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("name is required")
	}
	if strings.ContainsAny(s, " \t/") {
		return errors.New("name must not contain spaces or '/'")
	}
	return nil
}

func validatePort(s string) error {
	port, err := parseOptionalInt(s)
	if err != nil {
		return err
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

func validateChunkSize(s string) error {
	n, err := parseOptionalInt(s)
	if err != nil {
		return err
	}
	if n < 0 {
		return errors.New("chunk size must not be negative")
	}
	return nil
}

func parseOptionalInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return n, nil
}

// readSealed decrypts form data from path.
func readSealed(s *sealer, path string) (ports.DeviceFormData, error) {
	var data ports.DeviceFormData

	sealed, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("read form file: %w", err)
	}
	plain, err := s.open(sealed)
	if err != nil {
		return data, fmt.Errorf("decrypt form data: %w", err)
	}
	defer security.WipeBytes(plain)

	if err := json.Unmarshal(plain, &data); err != nil {
		return data, fmt.Errorf("unmarshal form data: %w", err)
	}
	return data, nil
}

// writeSealed encrypts data to path with mode 0600.
func writeSealed(s *sealer, path string, data ports.DeviceFormData) error {
	plain, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal form data: %w", err)
	}
	sealed, err := s.seal(plain)
	security.WipeBytes(plain)
	if err != nil {
		return fmt.Errorf("encrypt form data: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	return nil
}

// writeDone signals the waiting server; any status other than doneOK is an error message.
func writeDone(formFile, status string) error {
	return os.WriteFile(formFile+".done", []byte(status), 0600)
}
