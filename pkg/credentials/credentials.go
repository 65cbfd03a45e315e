// Package credentials stores API keys of remote memory backends in
// credentials.toml inside the .mnemo/ directory, apart from config.toml so
// the latter can be shared without secrets.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0
)

// ErrNoDirectory is returned when saving without a resolved .mnemo/ directory.
var ErrNoDirectory = errors.New("no .mnemo directory found, run 'mnemo init' first")

// Manager reads and writes credentials.toml.
type Manager struct {
	targetPath string
}

// NewManager resolves credentials.toml in the override directory or the
// standard .mnemo/ locations. Without a directory, Load returns empty
// credentials and Save fails with ErrNoDirectory.
func NewManager(override string) (*Manager, error) {
	target, err := dotdir.NewManager().Target(override)
	if err != nil {
		return nil, err
	}

	mgr := &Manager{}
	if target != "" {
		mgr.targetPath = filepath.Join(target, credentialsFile)
	}
	return mgr, nil
}

// Load reads credentials.toml. A missing file yields empty credentials.
func (m *Manager) Load() (*Credentials, error) {
	creds := &Credentials{Version: currentVersion}

	if m.targetPath != "" {
		data, err := os.ReadFile(m.targetPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading credentials: %w", err)
		default:
			if err := toml.Unmarshal(data, creds); err != nil {
				return nil, fmt.Errorf("parsing credentials: %w", err)
			}
		}
	}

	if creds.Backends == nil {
		creds.Backends = make(map[string]BackendCredential)
	}
	return creds, nil
}

// Save writes credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}
	if m.targetPath == "" {
		return ErrNoDirectory
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

// SetKey stores an API key for a backend id.
func (m *Manager) SetKey(backendID, key string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}
	creds.Backends[backendID] = BackendCredential{APIKey: key}
	return m.Save(creds)
}

// GetKey returns the stored API key of a backend, or "" when none is stored.
func (m *Manager) GetKey(backendID string) (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}
	return creds.Backends[backendID].APIKey, nil
}

// RemoveKey deletes the stored credential of a backend.
func (m *Manager) RemoveKey(backendID string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}
	delete(creds.Backends, backendID)
	return m.Save(creds)
}

// ListBackends returns the sorted ids of backends with stored credentials.
func (m *Manager) ListBackends() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(creds.Backends))
	for id := range creds.Backends {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// GetTarget returns the resolved path of credentials.toml, or "".
func (m *Manager) GetTarget() string {
	return m.targetPath
}

// Apply fills in the API key of every configured backend. The environment
// variable named by EnvVarForBackend wins, then a key set in config.toml,
// then the stored credential.
func (m *Manager) Apply(cfg *config.Config) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	for i := range cfg.Memory.Backends {
		b := &cfg.Memory.Backends[i]
		if key := os.Getenv(EnvVarForBackend(b.ID)); key != "" {
			b.APIKey = key
			continue
		}
		if b.APIKey == "" {
			b.APIKey = creds.Backends[b.ID].APIKey
		}
	}
	return nil
}

// EnvVarForBackend returns the environment variable that overrides a
// backend's API key, e.g. MNEMO_BACKEND_VECTORS_API_KEY for "vectors".
func EnvVarForBackend(backendID string) string {
	id := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, backendID)
	return "MNEMO_BACKEND_" + id + "_API_KEY"
}
