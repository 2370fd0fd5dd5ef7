package conflicts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncd/filesync/internal/state"
)

func seedState(t *testing.T, stateDir, profile string) {
	t.Helper()
	st := state.New(profile)
	state.RecordConflict(st, state.ConflictInput{
		Path: "f.txt", Reason: "both_modified",
		Endpoints: [2]string{"a", "b"}, Timestamp: 100,
	})
	state.RecordConflict(st, state.ConflictInput{
		Path: "g.txt", Reason: "manual_copy_both",
		Endpoints: [2]string{"a", "b"}, Timestamp: 200, Resolution: "copy_both",
	})
	require.NoError(t, state.Save(stateDir, st))
}

func TestReportListsAllByDefault(t *testing.T) {
	dir := t.TempDir()
	seedState(t, dir, "p1")

	r := NewReport("p1")
	require.NoError(t, r.Load(dir))
	assert.Equal(t, 2, r.Len())

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "2 conflict(s)")
	assert.Contains(t, buf.String(), "median age")
}

func TestReportFiltersUnresolved(t *testing.T) {
	dir := t.TempDir()
	seedState(t, dir, "p1")

	r := NewReport("p1").WithUnresolvedOnly(true)
	require.NoError(t, r.Load(dir))
	require.Equal(t, 1, r.Len())

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "f.txt")
	assert.Contains(t, buf.String(), "unresolved")
	assert.NotContains(t, buf.String(), "g.txt")
}

func TestReportFiltersResolved(t *testing.T) {
	dir := t.TempDir()
	seedState(t, dir, "p1")

	r := NewReport("p1").WithResolvedOnly(true)
	require.NoError(t, r.Load(dir))
	require.Equal(t, 1, r.Len())
	assert.Equal(t, "g.txt", r.entries[0].Path)
}

func TestReportNewestFirst(t *testing.T) {
	dir := t.TempDir()
	seedState(t, dir, "p1")

	r := NewReport("p1")
	require.NoError(t, r.Load(dir))
	require.Len(t, r.entries, 2)
	assert.Equal(t, "g.txt", r.entries[0].Path)
	assert.Equal(t, "f.txt", r.entries[1].Path)
}

func TestReportEmptyProfileIsNotError(t *testing.T) {
	dir := t.TempDir()
	r := NewReport("nonexistent")
	require.NoError(t, r.Load(dir))
	assert.Equal(t, 0, r.Len())

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "no conflicts recorded")
}

func TestReportWriteJSON(t *testing.T) {
	dir := t.TempDir()
	seedState(t, dir, "p1")

	r := NewReport("p1")
	require.NoError(t, r.Load(dir))

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))
	assert.Contains(t, buf.String(), "both_modified")
}
