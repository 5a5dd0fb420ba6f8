package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/ir"
)

func TestManager_ReadWrite(t *testing.T) {
	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, "state.json")

	mgr := NewManager(statePath)
	ctx := context.Background()

	// 1. Read non-existent state
	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.StateFormatVersion, s.Version)
	assert.Equal(t, 0, s.Serial)
	assert.Empty(t, s.Lineage)

	// 2. Write state
	s.Serial = 3
	s.Resources = []*ir.ResourceState{
		{
			Type:       "null_resource",
			Name:       "my-bucket",
			Provider:   "null",
			InputsHash: "hash123",
			Outputs:    map[string]any{"id": "null-my-bucket"},
		},
	}

	err = mgr.Write(ctx, s)
	require.NoError(t, err)

	// A missing lineage is minted on first write.
	assert.NotEmpty(t, s.Lineage)

	_, err = os.Stat(statePath)
	require.NoError(t, err)

	// 3. Read back
	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Lineage, got.Lineage)
	assert.Equal(t, 3, got.Serial)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, "null_resource", got.Resources[0].Type)
	assert.Equal(t, "my-bucket", got.Resources[0].Name)
}

func TestManager_WritePreservesLineage(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "state.json"))
	ctx := context.Background()

	s := &ir.State{Version: ir.StateFormatVersion, Serial: 1, Lineage: "fixed-lineage"}
	require.NoError(t, mgr.Write(ctx, s))
	assert.Equal(t, "fixed-lineage", s.Lineage)

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fixed-lineage", got.Lineage)
}

func TestManager_WriteCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, ".strata", "state.json")
	mgr := NewManager(statePath)

	err := mgr.Write(context.Background(), &ir.State{Version: 1})
	require.NoError(t, err)

	_, err = os.Stat(statePath)
	require.NoError(t, err)
}

func TestManager_ReadEncrypted(t *testing.T) {
	os.Setenv(EncryptionKeyEnvVar, "test-key-for-state-roundtrip!!!!")
	defer os.Unsetenv(EncryptionKeyEnvVar)

	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, "state.json")
	mgr := NewManager(statePath)
	ctx := context.Background()

	s := &ir.State{Version: 1, Serial: 7, Lineage: "enc-lineage"}
	require.NoError(t, mgr.Write(ctx, s))

	raw, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "enc-lineage")

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "enc-lineage", got.Lineage)
	assert.Equal(t, 7, got.Serial)
}

func TestManager_LockUnlock(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "state.json"))

	require.NoError(t, mgr.Lock())

	// Second acquisition is contended.
	err := mgr.Lock()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockContended)

	require.NoError(t, mgr.Unlock())
	require.NoError(t, mgr.Lock())
	require.NoError(t, mgr.Unlock())
}
