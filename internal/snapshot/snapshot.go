// Package snapshot builds a path->metadata map for one endpoint: a
// recursive walk for local roots, a marker-framed `find` invocation
// for remote roots.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/syncd/filesync/internal/pathmodel"
	"github.com/syncd/filesync/internal/transport"
)

// Error is raised when building a snapshot fails, for either endpoint
// kind.
type Error struct {
	Root string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("snapshot: %s: %v", e.Root, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Local walks the directory tree rooted at root and returns a map of
// normalized relative path to FileEntry. Symlinks, including broken
// ones, are never followed; a directory whose relative path matches
// any ignore pattern is pruned entirely. The root itself is never
// present in the returned map.
func Local(root string, ignorePatterns []string) (map[string]pathmodel.FileEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Root: root, Err: fmt.Errorf("not a directory")}
	}

	entries := make(map[string]pathmodel.FileEntry)

	var walk func(absDir, relDir string) error
	walk = func(absDir, relDir string) error {
		dirents, err := os.ReadDir(absDir)
		if err != nil {
			return err
		}
		for _, de := range dirents {
			rel, err := pathmodel.Join(relDir, de.Name())
			if err != nil {
				return err
			}
			if isIgnored(rel, ignorePatterns) {
				continue
			}
			abs := filepath.Join(absDir, de.Name())
			entry, isDir, err := statEntry(abs, rel)
			if err != nil {
				return err
			}
			entries[rel] = entry
			if isDir {
				if err := walk(abs, rel); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, "."); err != nil {
		return nil, &Error{Root: root, Err: err}
	}
	return entries, nil
}

func statEntry(abs, rel string) (pathmodel.FileEntry, bool, error) {
	lst, err := os.Lstat(abs)
	if err != nil {
		return pathmodel.FileEntry{}, false, err
	}
	isSymlink := lst.Mode()&os.ModeSymlink != 0
	isDir := lst.IsDir() && !isSymlink
	var linkTarget string
	if isSymlink {
		linkTarget, err = os.Readlink(abs)
		if err != nil {
			return pathmodel.FileEntry{}, false, err
		}
	}
	size := int64(0)
	if !isDir && !isSymlink {
		size = lst.Size()
	}
	return pathmodel.FileEntry{
		Path:       rel,
		IsDir:      isDir,
		Size:       size,
		Mtime:      float64(lst.ModTime().UnixNano()) / 1e9,
		IsSymlink:  isSymlink,
		LinkTarget: linkTarget,
	}, isDir, nil
}

// isIgnored matches relPath against each pattern using shell-style
// globbing over the path as a whole, matching Python's fnmatch.fnmatch:
// "*" and "?" cross "/" freely, so a bare pattern like "node_modules"
// only matches a top-level entry, while "*.tmp" matches at any depth.
func isIgnored(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if fnmatch(pattern, relPath) {
			return true
		}
	}
	return false
}

// Remote lists root on host through the marker-framed transport,
// equivalent to `find <root> -printf "%P|%y|%s|%T@|%l\n"`.
func Remote(ctx context.Context, ep transport.Endpoint, root string, ignorePatterns []string) (map[string]pathmodel.FileEntry, error) {
	remoteCommand := []string{"find", root, "-printf", "%P|%y|%s|%T@|%l\\n"}
	res, err := transport.RunWithMarkers(ctx, ep, remoteCommand)
	if err != nil {
		return nil, &Error{Root: root, Err: err}
	}
	if res.AuthFailed || res.PromptDetected {
		return nil, &Error{Root: root, Err: fmt.Errorf("%s", transport.PromptMessage)}
	}
	if res.ExitCode != 0 {
		return nil, &Error{Root: root, Err: fmt.Errorf("remote find failed: %s", strings.TrimSpace(res.Stderr))}
	}

	entries := make(map[string]pathmodel.FileEntry)
	for _, line := range strings.Split(res.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, ok, err := parseFindLine(line)
		if err != nil {
			return nil, &Error{Root: root, Err: err}
		}
		if !ok {
			continue
		}
		normalized, err := pathmodel.Normalize(entry.Path)
		if err != nil {
			return nil, &Error{Root: root, Err: err}
		}
		if normalized == "." {
			continue
		}
		entry.Path = normalized
		if isIgnored(entry.Path, ignorePatterns) {
			continue
		}
		entries[entry.Path] = entry
	}
	return entries, nil
}

func parseFindLine(line string) (pathmodel.FileEntry, bool, error) {
	parts := strings.SplitN(line, "|", 5)
	if len(parts) < 4 {
		return pathmodel.FileEntry{}, false, nil
	}
	relPath := parts[0]
	if relPath == "" {
		relPath = "."
	}
	typeChar := parts[1]
	isDir := typeChar == "d"
	isSymlink := typeChar == "l"

	size := int64(0)
	if !isDir && !isSymlink {
		s, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return pathmodel.FileEntry{}, false, fmt.Errorf("parsing size for %q: %w", relPath, err)
		}
		size = s
	}

	mtime, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return pathmodel.FileEntry{}, false, fmt.Errorf("parsing mtime for %q: %w", relPath, err)
	}

	var linkTarget string
	if len(parts) == 5 {
		linkTarget = parts[4]
	}

	return pathmodel.FileEntry{
		Path:       relPath,
		IsDir:      isDir,
		Size:       size,
		Mtime:      mtime,
		IsSymlink:  isSymlink,
		LinkTarget: linkTarget,
	}, true, nil
}
