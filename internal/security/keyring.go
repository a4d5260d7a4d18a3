package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "netpush-mcp"

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

// KeyringStore keeps device passwords and key passphrases in the OS keyring
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	enabled bool
	logger  *slog.Logger
}

// NewKeyringStore probes the system keyring. When it is unusable the store is
// returned disabled and every operation fails with ErrKeyringUnavailable.
func NewKeyringStore(logger *slog.Logger) *KeyringStore {
	if logger == nil {
		logger = slog.Default()
	}
	ks := &KeyringStore{enabled: true, logger: logger}

	const probe = "__netpush_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		logger.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probe)
	return ks
}

// IsEnabled returns true if the keyring is available.
func (ks *KeyringStore) IsEnabled() bool {
	return ks.enabled
}

func devicePasswordKey(device, user string) string {
	return fmt.Sprintf("device:%s@%s", user, device)
}

func passphraseKey(keyPath string) string {
	return "ssh-passphrase:" + keyPath
}

// StoreDevicePassword saves the login password of user on device.
func (ks *KeyringStore) StoreDevicePassword(device, user string, password []byte) error {
	if err := ks.set(devicePasswordKey(device, user), password); err != nil {
		return fmt.Errorf("store password for %s: %w", device, err)
	}
	ks.logger.Debug("stored device password in keyring",
		slog.String("device", device),
		slog.String("user", user),
	)
	return nil
}

// DevicePassword returns the stored password, or nil when none is stored.
func (ks *KeyringStore) DevicePassword(device, user string) ([]byte, error) {
	pw, err := ks.get(devicePasswordKey(device, user))
	if err != nil {
		return nil, fmt.Errorf("get password for %s: %w", device, err)
	}
	return pw, nil
}

// DeleteDevicePassword removes a stored password. Deleting a missing entry succeeds.
func (ks *KeyringStore) DeleteDevicePassword(device, user string) error {
	return ks.delete(devicePasswordKey(device, user))
}

// StorePassphrase saves the passphrase of an SSH private key.
func (ks *KeyringStore) StorePassphrase(keyPath string, passphrase []byte) error {
	if err := ks.set(passphraseKey(keyPath), passphrase); err != nil {
		return fmt.Errorf("store passphrase: %w", err)
	}
	return nil
}

// Passphrase returns the stored passphrase of an SSH key, or nil when none is stored.
func (ks *KeyringStore) Passphrase(keyPath string) ([]byte, error) {
	pp, err := ks.get(passphraseKey(keyPath))
	if err != nil {
		return nil, fmt.Errorf("get passphrase: %w", err)
	}
	return pp, nil
}

func (ks *KeyringStore) set(key string, secret []byte) error {
	if !ks.enabled {
		return ErrKeyringUnavailable
	}
	return keyring.Set(KeyringService, key, base64.StdEncoding.EncodeToString(secret))
}

func (ks *KeyringStore) get(key string) ([]byte, error) {
	if !ks.enabled {
		return nil, ErrKeyringUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.enabled {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
