// Package plan compares two current snapshots against the prior
// persisted state and produces the ordered list of operations and
// conflicts a run must apply.
package plan

import (
	"fmt"
	"sort"

	"github.com/syncd/filesync/internal/merge"
	"github.com/syncd/filesync/internal/pathmodel"
	"github.com/syncd/filesync/internal/state"
)

// OperationType identifies which of the four executor actions an
// Operation describes.
type OperationType string

const (
	OpCopy   OperationType = "copy"
	OpDelete OperationType = "delete"
	OpMkdir  OperationType = "mkdir"
	OpMerge  OperationType = "merge"
)

// Policy is the conflict-resolution strategy configured for a
// profile, shared by the primary policy and the merge fallback.
type Policy string

const (
	PolicyNewest Policy = "newest"
	PolicyPrefer Policy = "prefer"
	PolicyManual Policy = "manual"
)

// ManualBehavior selects what a manual-policy conflict does beyond
// simply blocking.
type ManualBehavior string

const (
	ManualBlocking ManualBehavior = ""
	ManualCopyBoth ManualBehavior = "copy_both"
)

// Operation is one action the executor must apply, always against a
// single normalized path.
type Operation struct {
	Type         OperationType
	Path         string
	Source       *pathmodel.Endpoint
	Destination  *pathmodel.Endpoint
	Reason       string
	TargetSuffix string

	// SourceEntry is the snapshot metadata for the copy's source side,
	// when the planner already had it on hand — sparing the executor
	// a remote readlink/stat probe it would otherwise need to decide
	// whether to recreate a symlink or copy file content.
	SourceEntry *pathmodel.FileEntry

	// EntryA/EntryB carry both sides' current metadata for a merge
	// operation, so a newest-wins fallback doesn't need to re-stat.
	EntryA *pathmodel.FileEntry
	EntryB *pathmodel.FileEntry

	// Merge-only fallback metadata, carried from the profile's conflict
	// configuration at plan time so the executor needn't re-derive it.
	FallbackPolicy         Policy
	FallbackPreferEndpoint string
	FallbackManualBehavior ManualBehavior
}

// Conflict is a recorded conflict that the plan did not (or only
// partially) resolve with an operation.
type Conflict struct {
	Path       string
	EndpointA  string
	EndpointB  string
	Reason     string
	Resolution string
	Timestamp  int64
	EntryA     *pathmodel.FileEntry
	EntryB     *pathmodel.FileEntry
}

// Config is the subset of profile configuration the planner consults
// for conflict resolution.
type Config struct {
	Policy         Policy
	PreferEndpoint string
	ManualBehavior ManualBehavior
	MergeTextFiles bool
	MergeFallback  Policy
}

// Input is everything the planner needs for one profile run.
type Input struct {
	SnapshotA map[string]pathmodel.FileEntry
	SnapshotB map[string]pathmodel.FileEntry
	State     *state.Profile
	EndpointA pathmodel.Endpoint
	EndpointB pathmodel.Endpoint
	Config    Config

	// Now supplies the wall-clock second used to stamp manual
	// copy-both conflicts; callers inject it so planning stays
	// deterministic and testable.
	Now func() int64
}

// Output is the ordered operations and conflicts produced by Plan.
type Output struct {
	Operations []Operation
	Conflicts  []Conflict
}

// Plan compares in.SnapshotA/in.SnapshotB against the prior state and
// returns the operations/conflicts for this run, processing paths in
// sorted order.
func Plan(in Input) Output {
	var out Output

	pathSet := make(map[string]bool)
	for p := range in.SnapshotA {
		pathSet[p] = true
	}
	for p := range in.SnapshotB {
		pathSet[p] = true
	}
	for _, entries := range in.State.Endpoints {
		for p := range entries {
			pathSet[p] = true
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entryA, hasA := in.SnapshotA[path]
		entryB, hasB := in.SnapshotB[path]
		lastA := state.LastEntry(in.State, in.EndpointA.ID, path)
		lastB := state.LastEntry(in.State, in.EndpointB.ID, path)

		classifyPath(&out, path, entryA, hasA, entryB, hasB, lastA, lastB, in)
	}

	return out
}

func classifyPath(
	out *Output,
	path string,
	entryA pathmodel.FileEntry, hasA bool,
	entryB pathmodel.FileEntry, hasB bool,
	lastA, lastB *pathmodel.StoredEntry,
	in Input,
) {
	switch {
	case hasA && !hasB:
		if pathmodel.ChangedSince(entryA, lastA) || lastB == nil {
			srcEntry := entryA
			out.Operations = append(out.Operations, Operation{
				Type: OpCopy, Path: path,
				Source: &in.EndpointA, Destination: &in.EndpointB,
				Reason:      "new_or_modified_on_a",
				SourceEntry: &srcEntry,
			})
		} else {
			out.Operations = append(out.Operations, Operation{
				Type: OpDelete, Path: path,
				Destination: &in.EndpointA,
				Reason:      "deleted_on_b",
			})
		}

	case hasB && !hasA:
		if pathmodel.ChangedSince(entryB, lastB) || lastA == nil {
			srcEntry := entryB
			out.Operations = append(out.Operations, Operation{
				Type: OpCopy, Path: path,
				Source: &in.EndpointB, Destination: &in.EndpointA,
				Reason:      "new_or_modified_on_b",
				SourceEntry: &srcEntry,
			})
		} else {
			out.Operations = append(out.Operations, Operation{
				Type: OpDelete, Path: path,
				Destination: &in.EndpointB,
				Reason:      "deleted_on_a",
			})
		}

	case hasA && hasB:
		if entriesEqual(entryA, entryB) {
			return
		}
		changedA := pathmodel.ChangedSince(entryA, lastA)
		changedB := pathmodel.ChangedSince(entryB, lastB)

		switch {
		case changedA && changedB:
			resolveConflict(out, path, entryA, entryB, lastA, lastB, in)
		case changedA:
			srcEntry := entryA
			out.Operations = append(out.Operations, Operation{
				Type: OpCopy, Path: path,
				Source: &in.EndpointA, Destination: &in.EndpointB,
				Reason:      "modified_on_a",
				SourceEntry: &srcEntry,
			})
		case changedB:
			srcEntry := entryB
			out.Operations = append(out.Operations, Operation{
				Type: OpCopy, Path: path,
				Source: &in.EndpointB, Destination: &in.EndpointA,
				Reason:      "modified_on_b",
				SourceEntry: &srcEntry,
			})
		}

	default:
		if lastA != nil {
			out.Operations = append(out.Operations, Operation{
				Type: OpDelete, Path: path,
				Destination: &in.EndpointA,
				Reason:      "deleted_on_a",
			})
		}
		if lastB != nil {
			out.Operations = append(out.Operations, Operation{
				Type: OpDelete, Path: path,
				Destination: &in.EndpointB,
				Reason:      "deleted_on_b",
			})
		}
	}
}

func entriesEqual(a, b pathmodel.FileEntry) bool {
	return a.IsDir == b.IsDir && a.Size == b.Size && int64(a.Mtime) == int64(b.Mtime)
}

func resolveConflict(
	out *Output,
	path string,
	entryA, entryB pathmodel.FileEntry,
	lastA, lastB *pathmodel.StoredEntry,
	in Input,
) {
	cfg := in.Config

	shouldMerge := cfg.MergeTextFiles &&
		!entryA.IsDir && !entryB.IsDir &&
		merge.LooksTextual(path) &&
		lastA != nil && lastB != nil

	if shouldMerge {
		a, b := entryA, entryB
		out.Operations = append(out.Operations, Operation{
			Type: OpMerge, Path: path,
			Source: &in.EndpointA, Destination: &in.EndpointB,
			Reason:                 "merge_attempt",
			FallbackPolicy:         cfg.MergeFallback,
			FallbackPreferEndpoint: cfg.PreferEndpoint,
			FallbackManualBehavior: cfg.ManualBehavior,
			EntryA:                 &a,
			EntryB:                 &b,
		})
		return
	}

	switch cfg.Policy {
	case PolicyNewest:
		winner, loser := chooseNewest(entryA, entryB, &in.EndpointA, &in.EndpointB)
		winnerEntry := entryA
		if winner == &in.EndpointB {
			winnerEntry = entryB
		}
		out.Operations = append(out.Operations, Operation{
			Type: OpCopy, Path: path,
			Source: winner, Destination: loser,
			Reason:      "newest_wins",
			SourceEntry: &winnerEntry,
		})

	case PolicyPrefer:
		if cfg.PreferEndpoint != "" {
			winner, loser := choosePreferred(cfg.PreferEndpoint, &in.EndpointA, &in.EndpointB)
			winnerEntry := entryA
			if winner == &in.EndpointB {
				winnerEntry = entryB
			}
			out.Operations = append(out.Operations, Operation{
				Type: OpCopy, Path: path,
				Source: winner, Destination: loser,
				Reason:      "prefer_policy",
				SourceEntry: &winnerEntry,
			})
			return
		}
		recordBlocking(out, path, entryA, entryB, in)

	case PolicyManual:
		if cfg.ManualBehavior == ManualCopyBoth {
			ts := in.Now()
			suffixA := fmt.Sprintf("%s.conflict-%s-%d", path, in.EndpointA.ID, ts)
			suffixB := fmt.Sprintf("%s.conflict-%s-%d", path, in.EndpointB.ID, ts)
			srcA, srcB := entryA, entryB
			out.Operations = append(out.Operations,
				Operation{
					Type: OpCopy, Path: path,
					Source: &in.EndpointA, Destination: &in.EndpointB,
					Reason: "manual_copy_both_copy", TargetSuffix: suffixA,
					SourceEntry: &srcA,
				},
				Operation{
					Type: OpCopy, Path: path,
					Source: &in.EndpointB, Destination: &in.EndpointA,
					Reason: "manual_copy_both_copy", TargetSuffix: suffixB,
					SourceEntry: &srcB,
				},
			)
			out.Conflicts = append(out.Conflicts, Conflict{
				Path: path, EndpointA: in.EndpointA.ID, EndpointB: in.EndpointB.ID,
				Reason: "manual_copy_both", Resolution: "copy_both", Timestamp: ts,
			})
			return
		}
		recordBlocking(out, path, entryA, entryB, in)

	default:
		recordBlocking(out, path, entryA, entryB, in)
	}
}

func recordBlocking(out *Output, path string, entryA, entryB pathmodel.FileEntry, in Input) {
	a, b := entryA, entryB
	out.Conflicts = append(out.Conflicts, Conflict{
		Path: path, EndpointA: in.EndpointA.ID, EndpointB: in.EndpointB.ID,
		Reason: "both_modified",
		EntryA: &a, EntryB: &b,
	})
}

func chooseNewest(a, b pathmodel.FileEntry, epA, epB *pathmodel.Endpoint) (winner, loser *pathmodel.Endpoint) {
	if a.Mtime >= b.Mtime {
		return epA, epB
	}
	return epB, epA
}

func choosePreferred(preferID string, epA, epB *pathmodel.Endpoint) (winner, loser *pathmodel.Endpoint) {
	if epA.ID == preferID {
		return epA, epB
	}
	if epB.ID == preferID {
		return epB, epA
	}
	return epA, epB
}
