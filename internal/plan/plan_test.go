package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncd/filesync/internal/pathmodel"
	"github.com/syncd/filesync/internal/state"
)

func baseInput() Input {
	return Input{
		SnapshotA: map[string]pathmodel.FileEntry{},
		SnapshotB: map[string]pathmodel.FileEntry{},
		State:     state.New("p"),
		EndpointA: pathmodel.Endpoint{ID: "a", Kind: pathmodel.KindLocal, RootPath: "/a"},
		EndpointB: pathmodel.Endpoint{ID: "b", Kind: pathmodel.KindLocal, RootPath: "/b"},
		Config:    Config{Policy: PolicyNewest, MergeTextFiles: true, MergeFallback: PolicyNewest},
		Now:       func() int64 { return 1700000000 },
	}
}

func TestNewFileOnACopiesToB(t *testing.T) {
	in := baseInput()
	in.SnapshotA["new.txt"] = pathmodel.FileEntry{Path: "new.txt", Size: 5, Mtime: 100}

	out := Plan(in)
	require.Len(t, out.Operations, 1)
	assert.Equal(t, OpCopy, out.Operations[0].Type)
	assert.Equal(t, "new_or_modified_on_a", out.Operations[0].Reason)
	assert.Equal(t, "a", out.Operations[0].Source.ID)
}

func TestDeletedOnBPropagatesDeleteOnA(t *testing.T) {
	in := baseInput()
	in.State.Endpoints["a"] = map[string]pathmodel.StoredEntry{
		"gone.txt": {Path: "gone.txt", Size: 5, Mtime: 100},
	}
	in.State.Endpoints["b"] = map[string]pathmodel.StoredEntry{
		"gone.txt": {Path: "gone.txt", Size: 5, Mtime: 100},
	}
	in.SnapshotA["gone.txt"] = pathmodel.FileEntry{Path: "gone.txt", Size: 5, Mtime: 100}

	out := Plan(in)
	require.Len(t, out.Operations, 1)
	assert.Equal(t, OpDelete, out.Operations[0].Type)
	assert.Equal(t, "deleted_on_b", out.Operations[0].Reason)
}

func TestEqualEntriesNoOp(t *testing.T) {
	in := baseInput()
	in.SnapshotA["same.txt"] = pathmodel.FileEntry{Path: "same.txt", Size: 5, Mtime: 100}
	in.SnapshotB["same.txt"] = pathmodel.FileEntry{Path: "same.txt", Size: 5, Mtime: 100}

	out := Plan(in)
	assert.Empty(t, out.Operations)
	assert.Empty(t, out.Conflicts)
}

func TestBothChangedNewestWins(t *testing.T) {
	in := baseInput()
	in.State.Endpoints["a"] = map[string]pathmodel.StoredEntry{"f.bin": {Path: "f.bin", Size: 1, Mtime: 1}}
	in.State.Endpoints["b"] = map[string]pathmodel.StoredEntry{"f.bin": {Path: "f.bin", Size: 1, Mtime: 1}}
	in.SnapshotA["f.bin"] = pathmodel.FileEntry{Path: "f.bin", Size: 2, Mtime: 500}
	in.SnapshotB["f.bin"] = pathmodel.FileEntry{Path: "f.bin", Size: 3, Mtime: 200}

	out := Plan(in)
	require.Len(t, out.Operations, 1)
	assert.Equal(t, "newest_wins", out.Operations[0].Reason)
	assert.Equal(t, "a", out.Operations[0].Source.ID)
}

func TestBothChangedTextFilesMerge(t *testing.T) {
	in := baseInput()
	in.State.Endpoints["a"] = map[string]pathmodel.StoredEntry{"f.go": {Path: "f.go", Size: 1, Mtime: 1}}
	in.State.Endpoints["b"] = map[string]pathmodel.StoredEntry{"f.go": {Path: "f.go", Size: 1, Mtime: 1}}
	in.SnapshotA["f.go"] = pathmodel.FileEntry{Path: "f.go", Size: 2, Mtime: 500}
	in.SnapshotB["f.go"] = pathmodel.FileEntry{Path: "f.go", Size: 3, Mtime: 200}

	out := Plan(in)
	require.Len(t, out.Operations, 1)
	assert.Equal(t, OpMerge, out.Operations[0].Type)
	assert.Equal(t, PolicyNewest, out.Operations[0].FallbackPolicy)
}

func TestBothChangedManualCopyBoth(t *testing.T) {
	in := baseInput()
	in.Config = Config{Policy: PolicyManual, ManualBehavior: ManualCopyBoth}
	in.State.Endpoints["a"] = map[string]pathmodel.StoredEntry{"f.bin": {Path: "f.bin", Size: 1, Mtime: 1}}
	in.State.Endpoints["b"] = map[string]pathmodel.StoredEntry{"f.bin": {Path: "f.bin", Size: 1, Mtime: 1}}
	in.SnapshotA["f.bin"] = pathmodel.FileEntry{Path: "f.bin", Size: 2, Mtime: 500}
	in.SnapshotB["f.bin"] = pathmodel.FileEntry{Path: "f.bin", Size: 3, Mtime: 200}

	out := Plan(in)
	require.Len(t, out.Operations, 2)
	assert.Equal(t, "f.bin.conflict-a-1700000000", out.Operations[0].TargetSuffix)
	assert.Equal(t, "f.bin.conflict-b-1700000000", out.Operations[1].TargetSuffix)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, "manual_copy_both", out.Conflicts[0].Reason)
}

func TestBothChangedBlockingConflict(t *testing.T) {
	in := baseInput()
	in.Config = Config{Policy: PolicyManual}
	in.State.Endpoints["a"] = map[string]pathmodel.StoredEntry{"f.bin": {Path: "f.bin", Size: 1, Mtime: 1}}
	in.State.Endpoints["b"] = map[string]pathmodel.StoredEntry{"f.bin": {Path: "f.bin", Size: 1, Mtime: 1}}
	in.SnapshotA["f.bin"] = pathmodel.FileEntry{Path: "f.bin", Size: 2, Mtime: 500}
	in.SnapshotB["f.bin"] = pathmodel.FileEntry{Path: "f.bin", Size: 3, Mtime: 200}

	out := Plan(in)
	assert.Empty(t, out.Operations)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, "both_modified", out.Conflicts[0].Reason)
	require.NotNil(t, out.Conflicts[0].EntryA)
	assert.Equal(t, int64(2), out.Conflicts[0].EntryA.Size)
}

func TestSortedPathOrder(t *testing.T) {
	in := baseInput()
	in.SnapshotA["zebra.txt"] = pathmodel.FileEntry{Path: "zebra.txt", Size: 1, Mtime: 1}
	in.SnapshotA["alpha.txt"] = pathmodel.FileEntry{Path: "alpha.txt", Size: 1, Mtime: 1}

	out := Plan(in)
	require.Len(t, out.Operations, 2)
	assert.Equal(t, "alpha.txt", out.Operations[0].Path)
	assert.Equal(t, "zebra.txt", out.Operations[1].Path)
}
