package execute

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncd/filesync/internal/pathmodel"
	"github.com/syncd/filesync/internal/plan"
)

func localEndpoint(t *testing.T, id string) *pathmodel.Endpoint {
	t.Helper()
	return &pathmodel.Endpoint{ID: id, Kind: pathmodel.KindLocal, RootPath: t.TempDir()}
}

func TestApplyCopyLocalToLocalFile(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "hello.txt"), []byte("hello"), 0o644))

	ops := []plan.Operation{{Type: plan.OpCopy, Path: "hello.txt", Source: a, Destination: b}}
	require.NoError(t, Apply(context.Background(), ops, Options{}))

	data, err := os.ReadFile(filepath.Join(b.RootPath, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestApplyCopyLocalToLocalSymlink(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "target.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(a.RootPath, "link")))

	ops := []plan.Operation{{
		Type: plan.OpCopy, Path: "link", Source: a, Destination: b,
		SourceEntry: &pathmodel.FileEntry{Path: "link", IsSymlink: true, LinkTarget: "target.txt"},
	}}
	require.NoError(t, Apply(context.Background(), ops, Options{}))

	dst := filepath.Join(b.RootPath, "link")
	target, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)
}

func TestApplyCopyWithTargetSuffix(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "f.txt"), []byte("A"), 0o644))

	ops := []plan.Operation{{
		Type: plan.OpCopy, Path: "f.txt", Source: a, Destination: b,
		TargetSuffix: "f.txt.conflict-a-1700000000",
	}}
	require.NoError(t, Apply(context.Background(), ops, Options{}))

	data, err := os.ReadFile(filepath.Join(b.RootPath, "f.txt.conflict-a-1700000000"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
}

func TestApplyDeleteLocalFile(t *testing.T) {
	a := localEndpoint(t, "a")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "obsolete.txt"), []byte("x"), 0o644))

	ops := []plan.Operation{{Type: plan.OpDelete, Path: "obsolete.txt", Destination: a}}
	require.NoError(t, Apply(context.Background(), ops, Options{}))

	_, err := os.Stat(filepath.Join(a.RootPath, "obsolete.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyDeleteMissingPathIsNotAnError(t *testing.T) {
	a := localEndpoint(t, "a")
	ops := []plan.Operation{{Type: plan.OpDelete, Path: "never-existed.txt", Destination: a}}
	assert.NoError(t, Apply(context.Background(), ops, Options{}))
}

func TestApplyMkdirLocal(t *testing.T) {
	a := localEndpoint(t, "a")
	ops := []plan.Operation{{Type: plan.OpMkdir, Path: "sub/dir", Destination: a}}
	require.NoError(t, Apply(context.Background(), ops, Options{}))

	info, err := os.Stat(filepath.Join(a.RootPath, "sub", "dir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestApplyDryRunDoesNothing(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "hello.txt"), []byte("hello"), 0o644))

	ops := []plan.Operation{{Type: plan.OpCopy, Path: "hello.txt", Source: a, Destination: b}}
	require.NoError(t, Apply(context.Background(), ops, Options{DryRun: true}))

	_, err := os.Stat(filepath.Join(b.RootPath, "hello.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyMergeDisjointSucceeds(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	left := "1 modified\n2\n3\n4\n5\n"
	right := "1\n2\n3\n4\n5 modified\n"
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "f.py"), []byte(left), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.RootPath, "f.py"), []byte(right), 0o644))

	ops := []plan.Operation{{
		Type: plan.OpMerge, Path: "f.py", Source: a, Destination: b,
		FallbackPolicy: plan.PolicyNewest,
		EntryA:         &pathmodel.FileEntry{Path: "f.py", Mtime: 100},
		EntryB:         &pathmodel.FileEntry{Path: "f.py", Mtime: 200},
	}}
	mergeDir := t.TempDir()
	// Seed the base cache as if a prior run had merged this path.
	writeMergeBase(mergeDir, "f.py", "1\n2\n3\n4\n5\n")
	require.Equal(t, "1\n2\n3\n4\n5\n", readMergeBase(mergeDir, "f.py"))
	require.NoError(t, Apply(context.Background(), ops, Options{MergeBaseDir: mergeDir}))

	wantA, err := os.ReadFile(filepath.Join(a.RootPath, "f.py"))
	require.NoError(t, err)
	wantB, err := os.ReadFile(filepath.Join(b.RootPath, "f.py"))
	require.NoError(t, err)
	assert.Equal(t, string(wantA), string(wantB))
	assert.Equal(t, "1 modified\n2\n3\n4\n5 modified\n", string(wantA))
}

func TestApplyMergeOverlapFallsBackToNewest(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "f.py"), []byte("line1\nmodified by A\nline3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.RootPath, "f.py"), []byte("line1\nmodified by B\nline3\n"), 0o644))

	ops := []plan.Operation{{
		Type: plan.OpMerge, Path: "f.py", Source: a, Destination: b,
		FallbackPolicy: plan.PolicyNewest,
		EntryA:         &pathmodel.FileEntry{Path: "f.py", Mtime: 100},
		EntryB:         &pathmodel.FileEntry{Path: "f.py", Mtime: 200},
	}}
	require.NoError(t, Apply(context.Background(), ops, Options{}))

	contentA, err := os.ReadFile(filepath.Join(a.RootPath, "f.py"))
	require.NoError(t, err)
	contentB, err := os.ReadFile(filepath.Join(b.RootPath, "f.py"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nmodified by B\nline3\n", string(contentA))
	assert.Equal(t, string(contentA), string(contentB))
}

func TestApplyMergeManualFallbackErrors(t *testing.T) {
	a := localEndpoint(t, "a")
	b := localEndpoint(t, "b")
	require.NoError(t, os.WriteFile(filepath.Join(a.RootPath, "f.py"), []byte("line1\nmodified by A\nline3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.RootPath, "f.py"), []byte("line1\nmodified by B\nline3\n"), 0o644))

	ops := []plan.Operation{{
		Type: plan.OpMerge, Path: "f.py", Source: a, Destination: b,
		FallbackPolicy: plan.PolicyManual,
	}}
	err := Apply(context.Background(), ops, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual resolution required")
}
