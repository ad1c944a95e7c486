package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctxstack/ctxd/internal/store"
)

// Sidecar mirrors watch configs to a JSON file next to the daemon state.
// The database row is authoritative; the file lets registrations survive a
// database reset.
type Sidecar struct {
	path string
}

// NewSidecar creates a sidecar writer for path. Empty path disables it.
func NewSidecar(path string) *Sidecar {
	return &Sidecar{path: path}
}

// Save writes the full config set atomically (temp file + rename).
func (s *Sidecar) Save(configs []store.WatchConfig) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create sidecar directory: %w", err)
	}

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load reads the backed-up config set. A missing file yields an empty set.
func (s *Sidecar) Load() ([]store.WatchConfig, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var configs []store.WatchConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", s.path, err)
	}
	return configs, nil
}
