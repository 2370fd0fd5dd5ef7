// Package execute applies a planned list of operations (copy, delete,
// mkdir, merge) to the local filesystem and/or a remote endpoint reached
// through the shell transport. Each operation is applied independently:
// a failure aborts the run but never rolls back operations already
// applied.
package execute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/syncd/filesync/internal/merge"
	"github.com/syncd/filesync/internal/pathmodel"
	"github.com/syncd/filesync/internal/plan"
	"github.com/syncd/filesync/internal/remotecopy"
	"github.com/syncd/filesync/internal/transport"
)

// Error is raised whenever applying an operation fails, carrying the
// specific operation and path so a caller can report it usefully.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("execute: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("execute: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures one Apply call.
type Options struct {
	DryRun bool

	// MergeBaseDir, when non-empty, is a cache directory the executor
	// uses to remember the last successfully merged content for a path.
	// The state store (internal/state) only ever persists metadata
	// (size/mtime/flags), never file bytes, so it cannot supply a merge
	// base; this side cache fills that gap without changing the state
	// file's schema. A path with no cached entry merges against an
	// empty base, the degraded two-way path.
	MergeBaseDir string

	CopyOptions remotecopy.Options
}

// Apply runs every operation in order. The caller is expected to have
// already sorted ops by path; the executor does not reorder.
func Apply(ctx context.Context, ops []plan.Operation, opts Options) error {
	for _, op := range ops {
		if err := applyOne(ctx, op, opts); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, op plan.Operation, opts Options) error {
	switch op.Type {
	case plan.OpCopy:
		return applyCopy(ctx, op, opts)
	case plan.OpDelete:
		return applyDelete(ctx, op, opts)
	case plan.OpMkdir:
		return applyMkdir(ctx, op, opts)
	case plan.OpMerge:
		return applyMerge(ctx, op, opts)
	default:
		return &Error{Op: string(op.Type), Path: op.Path, Err: fmt.Errorf("unsupported operation type")}
	}
}

func targetPath(op plan.Operation) string {
	if op.TargetSuffix != "" {
		return op.TargetSuffix
	}
	return op.Path
}

func transportEndpoint(ep *pathmodel.Endpoint) transport.Endpoint {
	return transport.Endpoint{Host: ep.Host, ShellCommand: ep.ShellCommand}
}

func posixJoin(root, rel string) string {
	return path.Join(root, rel)
}

func posixDir(p string) string {
	return path.Dir(p)
}

func runRemoteChecked(ctx context.Context, ep transport.Endpoint, cmd []string) (transport.Result, error) {
	res, err := transport.Run(ctx, ep, cmd)
	if err != nil {
		return res, &Error{Op: cmd[0], Err: err}
	}
	if res.AuthFailed || res.PromptDetected {
		return res, &Error{Op: cmd[0], Err: errors.New(transport.PromptMessage)}
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("%s failed with exit code %d", cmd[0], res.ExitCode)
		}
		return res, &Error{Op: cmd[0], Err: errors.New(msg)}
	}
	return res, nil
}

// --- copy ---

func applyCopy(ctx context.Context, op plan.Operation, opts Options) error {
	if op.Source == nil || op.Destination == nil {
		return &Error{Op: "copy", Path: op.Path, Err: fmt.Errorf("copy operation requires source and destination endpoints")}
	}
	if opts.DryRun {
		return nil
	}
	switch {
	case op.Source.Kind == pathmodel.KindLocal && op.Destination.Kind == pathmodel.KindLocal:
		return copyLocalToLocal(op)
	case op.Source.Kind == pathmodel.KindLocal && op.Destination.Kind == pathmodel.KindRemote:
		return copyLocalToRemote(ctx, op, opts)
	case op.Source.Kind == pathmodel.KindRemote && op.Destination.Kind == pathmodel.KindLocal:
		return copyRemoteToLocal(ctx, op, opts)
	default:
		return copyRemoteToRemote(ctx, op, opts)
	}
}

func copyLocalToLocal(op plan.Operation) error {
	srcPath := filepath.Join(op.Source.RootPath, filepath.FromSlash(op.Path))
	dstPath := filepath.Join(op.Destination.RootPath, filepath.FromSlash(targetPath(op)))

	lst, err := os.Lstat(srcPath)
	if err != nil {
		return &Error{Op: "copy", Path: op.Path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return &Error{Op: "copy", Path: op.Path, Err: err}
	}

	switch {
	case lst.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(srcPath)
		if err != nil {
			return &Error{Op: "copy", Path: op.Path, Err: err}
		}
		_ = os.Remove(dstPath)
		if err := os.Symlink(target, dstPath); err != nil {
			return &Error{Op: "copy", Path: op.Path, Err: err}
		}
	case lst.IsDir():
		if err := os.MkdirAll(dstPath, 0o755); err != nil {
			return &Error{Op: "copy", Path: op.Path, Err: err}
		}
	default:
		if err := copyFileWithMetadata(srcPath, dstPath, lst); err != nil {
			return &Error{Op: "copy", Path: op.Path, Err: err}
		}
	}
	return nil
}

func copyFileWithMetadata(srcPath, dstPath string, lst os.FileInfo) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, lst.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Chtimes(dstPath, lst.ModTime(), lst.ModTime())
}

func copyLocalToRemote(ctx context.Context, op plan.Operation, opts Options) error {
	dstEp := transportEndpoint(op.Destination)
	rel := targetPath(op)
	remoteDst := posixJoin(op.Destination.RootPath, rel)

	if op.SourceEntry != nil && op.SourceEntry.IsSymlink {
		if _, err := runRemoteChecked(ctx, dstEp, []string{"mkdir", "-p", posixDir(remoteDst)}); err != nil {
			return wrapPath(err, op.Path)
		}
		if _, err := runRemoteChecked(ctx, dstEp, []string{"ln", "-sfn", op.SourceEntry.LinkTarget, remoteDst}); err != nil {
			return wrapPath(err, op.Path)
		}
		return nil
	}
	if op.SourceEntry != nil && op.SourceEntry.IsDir {
		if _, err := runRemoteChecked(ctx, dstEp, []string{"mkdir", "-p", remoteDst}); err != nil {
			return wrapPath(err, op.Path)
		}
		return nil
	}

	if _, err := runRemoteChecked(ctx, dstEp, []string{"mkdir", "-p", posixDir(remoteDst)}); err != nil {
		return wrapPath(err, op.Path)
	}
	srcPath := filepath.Join(op.Source.RootPath, filepath.FromSlash(op.Path))
	if err := remotecopy.Push(ctx, op.Destination.Host, srcPath, remoteDst, opts.CopyOptions); err != nil {
		return &Error{Op: "push", Path: op.Path, Err: err}
	}
	return nil
}

func copyRemoteToLocal(ctx context.Context, op plan.Operation, opts Options) error {
	srcEp := transportEndpoint(op.Source)
	remoteSrc := posixJoin(op.Source.RootPath, op.Path)
	rel := targetPath(op)
	dstPath := filepath.Join(op.Destination.RootPath, filepath.FromSlash(rel))

	isSymlink := false
	linkTarget := ""
	isDir := false
	if op.SourceEntry != nil {
		isSymlink = op.SourceEntry.IsSymlink
		linkTarget = op.SourceEntry.LinkTarget
		isDir = op.SourceEntry.IsDir
	} else {
		res, err := transport.Run(ctx, srcEp, []string{"test", "-L", remoteSrc})
		if err != nil {
			return &Error{Op: "probe", Path: op.Path, Err: err}
		}
		if res.ExitCode == 0 {
			isSymlink = true
			lr, err := transport.Run(ctx, srcEp, []string{"readlink", remoteSrc})
			if err != nil {
				return &Error{Op: "readlink", Path: op.Path, Err: err}
			}
			linkTarget = strings.TrimSpace(lr.Stdout)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return &Error{Op: "copy", Path: op.Path, Err: err}
	}

	switch {
	case isSymlink:
		_ = os.Remove(dstPath)
		if err := os.Symlink(linkTarget, dstPath); err != nil {
			return &Error{Op: "copy", Path: op.Path, Err: err}
		}
	case isDir:
		if err := os.MkdirAll(dstPath, 0o755); err != nil {
			return &Error{Op: "copy", Path: op.Path, Err: err}
		}
	default:
		if err := remotecopy.Pull(ctx, op.Source.Host, remoteSrc, dstPath, opts.CopyOptions); err != nil {
			return &Error{Op: "pull", Path: op.Path, Err: err}
		}
	}
	return nil
}

func copyRemoteToRemote(ctx context.Context, op plan.Operation, opts Options) error {
	srcEp := transportEndpoint(op.Source)
	dstEp := transportEndpoint(op.Destination)
	remoteSrc := posixJoin(op.Source.RootPath, op.Path)
	rel := targetPath(op)
	remoteDst := posixJoin(op.Destination.RootPath, rel)

	isSymlink := false
	linkTarget := ""
	isDir := false
	if op.SourceEntry != nil {
		isSymlink = op.SourceEntry.IsSymlink
		linkTarget = op.SourceEntry.LinkTarget
		isDir = op.SourceEntry.IsDir
	} else {
		res, err := transport.Run(ctx, srcEp, []string{"test", "-L", remoteSrc})
		if err != nil {
			return &Error{Op: "probe", Path: op.Path, Err: err}
		}
		if res.ExitCode == 0 {
			isSymlink = true
			lr, err := transport.Run(ctx, srcEp, []string{"readlink", remoteSrc})
			if err != nil {
				return &Error{Op: "readlink", Path: op.Path, Err: err}
			}
			linkTarget = strings.TrimSpace(lr.Stdout)
		}
	}

	if isSymlink {
		if _, err := runRemoteChecked(ctx, dstEp, []string{"mkdir", "-p", posixDir(remoteDst)}); err != nil {
			return wrapPath(err, op.Path)
		}
		if _, err := runRemoteChecked(ctx, dstEp, []string{"ln", "-sfn", linkTarget, remoteDst}); err != nil {
			return wrapPath(err, op.Path)
		}
		return nil
	}
	if isDir {
		if _, err := runRemoteChecked(ctx, dstEp, []string{"mkdir", "-p", remoteDst}); err != nil {
			return wrapPath(err, op.Path)
		}
		return nil
	}

	scratchDir, err := os.MkdirTemp("", "filesync-relay-")
	if err != nil {
		return &Error{Op: "relay", Path: op.Path, Err: err}
	}
	defer os.RemoveAll(scratchDir)

	tmpFile := filepath.Join(scratchDir, uuid.NewString())
	if err := remotecopy.Pull(ctx, op.Source.Host, remoteSrc, tmpFile, opts.CopyOptions); err != nil {
		return &Error{Op: "relay-pull", Path: op.Path, Err: err}
	}
	if _, err := runRemoteChecked(ctx, dstEp, []string{"mkdir", "-p", posixDir(remoteDst)}); err != nil {
		return wrapPath(err, op.Path)
	}
	if err := remotecopy.Push(ctx, op.Destination.Host, tmpFile, remoteDst, opts.CopyOptions); err != nil {
		return &Error{Op: "relay-push", Path: op.Path, Err: err}
	}
	return nil
}

func wrapPath(err error, path string) error {
	var e *Error
	if errors.As(err, &e) {
		e.Path = path
		return e
	}
	return &Error{Op: "remote", Path: path, Err: err}
}

// --- delete ---

func applyDelete(ctx context.Context, op plan.Operation, opts Options) error {
	if op.Destination == nil {
		return &Error{Op: "delete", Path: op.Path, Err: fmt.Errorf("delete operation requires a destination endpoint")}
	}
	if opts.DryRun {
		return nil
	}
	if op.Destination.Kind == pathmodel.KindLocal {
		target := filepath.Join(op.Destination.RootPath, filepath.FromSlash(op.Path))
		info, err := os.Lstat(target)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return &Error{Op: "delete", Path: op.Path, Err: err}
		}
		if info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			err = os.RemoveAll(target)
		} else {
			err = os.Remove(target)
		}
		if err != nil {
			return &Error{Op: "delete", Path: op.Path, Err: err}
		}
		return nil
	}

	ep := transportEndpoint(op.Destination)
	remoteTarget := posixJoin(op.Destination.RootPath, op.Path)
	if _, err := runRemoteChecked(ctx, ep, []string{"rm", "-rf", remoteTarget}); err != nil {
		return wrapPath(err, op.Path)
	}
	return nil
}

// --- mkdir ---

func applyMkdir(ctx context.Context, op plan.Operation, opts Options) error {
	if op.Destination == nil {
		return &Error{Op: "mkdir", Path: op.Path, Err: fmt.Errorf("mkdir operation requires a destination endpoint")}
	}
	if opts.DryRun {
		return nil
	}
	if op.Destination.Kind == pathmodel.KindLocal {
		target := filepath.Join(op.Destination.RootPath, filepath.FromSlash(op.Path))
		if err := os.MkdirAll(target, 0o755); err != nil {
			return &Error{Op: "mkdir", Path: op.Path, Err: err}
		}
		return nil
	}
	ep := transportEndpoint(op.Destination)
	remoteTarget := posixJoin(op.Destination.RootPath, op.Path)
	if _, err := runRemoteChecked(ctx, ep, []string{"mkdir", "-p", remoteTarget}); err != nil {
		return wrapPath(err, op.Path)
	}
	return nil
}

// --- merge ---

func applyMerge(ctx context.Context, op plan.Operation, opts Options) error {
	if op.Source == nil || op.Destination == nil {
		return &Error{Op: "merge", Path: op.Path, Err: fmt.Errorf("merge operation requires source and destination endpoints")}
	}

	left, leftErr := readText(ctx, op.Source, op.Path)
	right, rightErr := readText(ctx, op.Destination, op.Path)
	if leftErr != nil || rightErr != nil {
		return mergeFallback(ctx, op, opts)
	}
	if merge.LooksBinary([]byte(left)) || merge.LooksBinary([]byte(right)) {
		return mergeFallback(ctx, op, opts)
	}

	base := readMergeBase(opts.MergeBaseDir, op.Path)
	result := merge.ThreeWay(base, left, right)
	if !result.Success {
		return mergeFallback(ctx, op, opts)
	}

	if opts.DryRun {
		return nil
	}
	if err := writeText(ctx, op.Source, op.Path, result.Content, opts); err != nil {
		return &Error{Op: "merge-write", Path: op.Path, Err: err}
	}
	if err := writeText(ctx, op.Destination, op.Path, result.Content, opts); err != nil {
		return &Error{Op: "merge-write", Path: op.Path, Err: err}
	}
	writeMergeBase(opts.MergeBaseDir, op.Path, result.Content)
	return nil
}

func mergeFallback(ctx context.Context, op plan.Operation, opts Options) error {
	switch op.FallbackPolicy {
	case plan.PolicyManual:
		return &Error{Op: "merge", Path: op.Path, Err: fmt.Errorf("manual resolution required")}
	case plan.PolicyPrefer:
		if op.FallbackPreferEndpoint == op.Source.ID {
			return applyCopy(ctx, copyFrom(op, op.Source, op.Destination), opts)
		}
		if op.FallbackPreferEndpoint == op.Destination.ID {
			return applyCopy(ctx, copyFrom(op, op.Destination, op.Source), opts)
		}
		return mergeNewestFallback(ctx, op, opts)
	default: // PolicyNewest and the zero value both resolve by mtime
		return mergeNewestFallback(ctx, op, opts)
	}
}

func mergeNewestFallback(ctx context.Context, op plan.Operation, opts Options) error {
	mtimeA, mtimeB := float64(0), float64(0)
	if op.EntryA != nil {
		mtimeA = op.EntryA.Mtime
	}
	if op.EntryB != nil {
		mtimeB = op.EntryB.Mtime
	}
	if mtimeA >= mtimeB {
		return applyCopy(ctx, copyFrom(op, op.Source, op.Destination), opts)
	}
	return applyCopy(ctx, copyFrom(op, op.Destination, op.Source), opts)
}

func copyFrom(op plan.Operation, source, destination *pathmodel.Endpoint) plan.Operation {
	var sourceEntry *pathmodel.FileEntry
	if source == op.Source {
		sourceEntry = op.EntryA
	} else {
		sourceEntry = op.EntryB
	}
	return plan.Operation{
		Type:        plan.OpCopy,
		Path:        op.Path,
		Source:      source,
		Destination: destination,
		Reason:      "merge_fallback",
		SourceEntry: sourceEntry,
	}
}

func readText(ctx context.Context, ep *pathmodel.Endpoint, relPath string) (string, error) {
	if ep.Kind == pathmodel.KindLocal {
		data, err := os.ReadFile(filepath.Join(ep.RootPath, filepath.FromSlash(relPath)))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	tep := transportEndpoint(ep)
	remotePath := posixJoin(ep.RootPath, relPath)
	res, err := transport.RunWithMarkers(ctx, tep, []string{"cat", remotePath})
	if err != nil {
		return "", err
	}
	if res.AuthFailed || res.PromptDetected {
		return "", errors.New(transport.PromptMessage)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("remote cat failed: %s", strings.TrimSpace(res.Stderr))
	}
	return res.Body, nil
}

func writeText(ctx context.Context, ep *pathmodel.Endpoint, relPath, content string, opts Options) error {
	if ep.Kind == pathmodel.KindLocal {
		dst := filepath.Join(ep.RootPath, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, []byte(content), 0o644)
	}

	scratchDir, err := os.MkdirTemp("", "filesync-merge-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratchDir)
	tmpFile := filepath.Join(scratchDir, uuid.NewString())
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		return err
	}

	ep2 := transportEndpoint(ep)
	remotePath := posixJoin(ep.RootPath, relPath)
	if _, err := runRemoteChecked(ctx, ep2, []string{"mkdir", "-p", posixDir(remotePath)}); err != nil {
		return err
	}
	return remotecopy.Push(ctx, ep.Host, tmpFile, remotePath, opts.CopyOptions)
}

// The cache entries are gzip-compressed: merge bases are whole text
// files kept around indefinitely, and a profile syncing many merged
// paths would otherwise duplicate its entire text corpus on disk.
func mergeBasePath(dir, relPath string) string {
	return filepath.Join(dir, strings.ReplaceAll(relPath, "/", "__")+".gz")
}

func readMergeBase(dir, relPath string) string {
	if dir == "" {
		return ""
	}
	f, err := os.Open(mergeBasePath(dir, relPath))
	if err != nil {
		return ""
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return ""
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeMergeBase(dir, relPath, content string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	f, err := os.Create(mergeBasePath(dir, relPath))
	if err != nil {
		return
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		_ = zw.Close()
		return
	}
	_ = zw.Close()
}
