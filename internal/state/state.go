package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/strata-io/strata/internal/ir"
)

// Manager handles reading and writing of local state.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Read loads the state from the configured path.
// If the state file is encrypted, it is transparently decrypted before parsing.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		// If state file doesn't exist, return empty state
		if os.IsNotExist(err) {
			return &ir.State{
				Version: ir.StateFormatVersion,
				Serial:  0,
			}, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	st, err := ParseState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}

	return st, nil
}

// Write saves the state to the configured path. The write is atomic: a
// temp file in the same directory is renamed over the destination, so a
// concurrent reader never observes a partial state. A missing lineage is
// minted here, on the first write of a new state.
// If STRATA_STATE_ENCRYPTION_KEY is set, the file is transparently encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if state.Version == 0 {
		state.Version = ir.StateFormatVersion
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}

	content, err := EncodeState(state)
	if err != nil {
		return err
	}

	// Encrypt if encryption key is configured
	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit state file %s: %w", m.path, err)
	}

	return nil
}
