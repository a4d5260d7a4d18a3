package ports

// DeviceFormData holds the result of a device configuration form.
type DeviceFormData struct {
	Name        string
	Mode        string // "ssh" or "local"
	Host        string
	Port        int
	User        string
	Prompt      string
	KeyPath     string
	PasswordEnv string
	Command     string
	ChunkSize   int
	Confirmed   bool
}

// DialogProvider abstracts interactive user dialogs.
// Implementations may use TUI forms or test fakes.
type DialogProvider interface {
	// DeviceConfigForm shows a form to confirm/edit a device entry.
	// Returns the final form data with Confirmed=true if the user accepted.
	DeviceConfigForm(prefill DeviceFormData) (DeviceFormData, error)
}
