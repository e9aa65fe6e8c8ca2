package vdoconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/berithfoundation/vdocore/internal/recoveryjournal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsableWithoutAFile(t *testing.T) {
	cfg := Default()
	policy, err := cfg.RecoveryJournalPolicy()
	require.NoError(t, err)
	assert.Equal(t, recoveryjournal.SyncPolicy, policy)
	assert.NotZero(t, cfg.JournalSize)
	assert.NotZero(t, cfg.EntriesPerBlock)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdocore.toml")
	require.NoError(t, os.WriteFile(path, []byte("WritePolicy = \"async\"\nJournalSize = 4096\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Async, cfg.WritePolicy)
	assert.Equal(t, uint64(4096), cfg.JournalSize)
	assert.Equal(t, Default().EntriesPerBlock, cfg.EntriesPerBlock)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdocore.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRecoveryJournalPolicyRejectsUnknownValue(t *testing.T) {
	cfg := Default()
	cfg.WritePolicy = "nonsense"
	_, err := cfg.RecoveryJournalPolicy()
	assert.Error(t, err)
}

func TestDumpRoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdocore.toml")

	cfg := Default()
	cfg.WritePolicy = AsyncUnsafe
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, cfg))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AsyncUnsafe, reloaded.WritePolicy)
	assert.Equal(t, cfg.JournalSize, reloaded.JournalSize)
}
