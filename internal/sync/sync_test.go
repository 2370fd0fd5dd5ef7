package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncd/filesync/internal/config"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	stateDir := t.TempDir()
	return &Coordinator{
		Settings:     config.Settings{StateDir: stateDir},
		MergeBaseDir: t.TempDir(),
		Now:          func() int64 { return 1700000000 },
	}
}

func localConfig(t *testing.T, name string) *config.Config {
	t.Helper()
	rootA := filepath.Join(t.TempDir(), "a")
	rootB := filepath.Join(t.TempDir(), "b")
	cfg := &config.Config{
		Profile: config.Profile{Name: name},
		Endpoints: map[string]config.Endpoint{
			"a": {Kind: "local", Path: rootA},
			"b": {Kind: "local", Path: rootB},
		},
		Conflict: config.ConflictConfig{Policy: "newest", MergeTextFiles: true, MergeFallback: "newest"},
		SSH:      config.SSHConfig{ShellCommand: "ssh"},
	}
	return cfg
}

func TestRunCopiesNewFileFromAToB(t *testing.T) {
	c := newTestCoordinator(t)
	cfg := localConfig(t, "demo")
	rootA := cfg.Endpoints["a"].Path
	require.NoError(t, os.MkdirAll(rootA, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "hello.txt"), []byte("hi"), 0o644))

	err := c.Run(context.Background(), cfg, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(cfg.Endpoints["b"].Path, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestRunDryRunDoesNotWrite(t *testing.T) {
	c := newTestCoordinator(t)
	cfg := localConfig(t, "demo")
	rootA := cfg.Endpoints["a"].Path
	require.NoError(t, os.MkdirAll(rootA, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "hello.txt"), []byte("hi"), 0o644))

	err := c.Run(context.Background(), cfg, Options{DryRun: true})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(cfg.Endpoints["b"].Path, "hello.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunReturnsBlockingConflictWithoutApplying(t *testing.T) {
	c := newTestCoordinator(t)
	cfg := localConfig(t, "demo")
	cfg.Conflict.MergeTextFiles = false
	rootA := cfg.Endpoints["a"].Path
	rootB := cfg.Endpoints["b"].Path
	require.NoError(t, os.MkdirAll(rootA, 0o755))
	require.NoError(t, os.MkdirAll(rootB, 0o755))

	// First run establishes a baseline so the second run sees both
	// sides as independently modified.
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "f.bin"), []byte{0, 1, 2}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "f.bin"), []byte{0, 1, 2}, 0o644))
	require.NoError(t, c.Run(context.Background(), cfg, Options{}))

	cfg.Conflict.Policy = "manual"
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "f.bin"), []byte{9, 9, 9}, 0o644))
	// Different sizes, so the planner does not treat the two sides as
	// equal when both writes land in the same wall-clock second.
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "f.bin"), []byte{8, 8, 8, 8}, 0o644))

	err := c.Run(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conflicts detected")
}

func TestRunPreConnectRunsOnlyOnce(t *testing.T) {
	c := newTestCoordinator(t)
	cfg := localConfig(t, "demo")
	marker := filepath.Join(t.TempDir(), "marker")
	cfg.SSH.PreConnectCommand = "echo ran >> " + marker

	require.NoError(t, os.MkdirAll(cfg.Endpoints["a"].Path, 0o755))
	require.NoError(t, c.Run(context.Background(), cfg, Options{}))
	require.NoError(t, c.Run(context.Background(), cfg, Options{}))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "ran\n", string(data))
}
