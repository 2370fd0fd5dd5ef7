// Package pathmodel implements the normalized relative-path and file-entry
// value types shared by every stage of the reconciliation pipeline.
package pathmodel

import (
	"fmt"
	"strings"
)

// Normalize converts a raw path string into the canonical relative-path
// form used throughout the package: forward slashes, no leading "./", no
// leading slash, and no ".." segments. The root is represented as ".".
func Normalize(raw string) (string, error) {
	s := strings.ReplaceAll(raw, `\`, "/")
	if strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("pathmodel: absolute paths are not allowed: %q", raw)
	}
	if len(s) >= 2 && s[1] == ':' && isDriveLetter(s[0]) {
		return "", fmt.Errorf("pathmodel: absolute paths are not allowed: %q", raw)
	}

	var parts []string
	for _, part := range strings.Split(s, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("pathmodel: path escapes root: %q", raw)
		default:
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return ".", nil
	}
	return strings.Join(parts, "/"), nil
}

// MustNormalize panics on an invalid path. Reserved for call sites that
// construct paths from trusted, already-validated components.
func MustNormalize(raw string) string {
	p, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Join appends a child name to a normalized relative directory path,
// returning a normalized result.
func Join(dir, child string) (string, error) {
	if dir == "." || dir == "" {
		return Normalize(child)
	}
	return Normalize(dir + "/" + child)
}

// EndpointKind distinguishes a local filesystem endpoint from one reached
// through the shell transport.
type EndpointKind string

const (
	KindLocal  EndpointKind = "local"
	KindRemote EndpointKind = "remote"
)

// Endpoint is one side of a sync profile.
type Endpoint struct {
	ID                string
	Kind              EndpointKind
	RootPath          string
	Host              string
	ShellCommand      string
	PreConnectCommand string
}

// Validate enforces the endpoint invariants from the data model: remote
// endpoints require a host, local endpoints require a root path.
func (e Endpoint) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("pathmodel: endpoint id must not be empty")
	}
	switch e.Kind {
	case KindRemote:
		if e.Host == "" {
			return fmt.Errorf("pathmodel: remote endpoint %q requires a host", e.ID)
		}
	case KindLocal:
		if e.RootPath == "" {
			return fmt.Errorf("pathmodel: local endpoint %q requires a root path", e.ID)
		}
	default:
		return fmt.Errorf("pathmodel: endpoint %q has unknown kind %q", e.ID, e.Kind)
	}
	return nil
}

// FileEntry is an immutable snapshot record for one path at one endpoint.
type FileEntry struct {
	Path       string
	IsDir      bool
	Size       int64
	Mtime      float64
	IsSymlink  bool
	LinkTarget string
}

// Equal implements the two-way equality predicate used by the planner:
// entries are equivalent when (IsDir, Size, floor(Mtime)) match.
func (e FileEntry) Equal(other FileEntry) bool {
	return e.IsDir == other.IsDir &&
		e.Size == other.Size &&
		int64(e.Mtime) == int64(other.Mtime)
}

// StoredEntry is the state-store analogue of FileEntry: the last agreed
// record for one (endpoint, path) pair. Every field is always present
// in the serialized object; Hash is reserved and stays null until a
// content-hash scheme exists.
type StoredEntry struct {
	Path       string  `json:"path"`
	IsDir      bool    `json:"is_dir"`
	Size       int64   `json:"size"`
	Mtime      float64 `json:"mtime"`
	IsSymlink  bool    `json:"is_symlink"`
	LinkTarget string  `json:"link_target"`
	Hash       *string `json:"hash"`
}

// FromFileEntry builds the stored-entry analogue of a current snapshot
// entry, as recorded by the state store after a successful run.
func FromFileEntry(e FileEntry) StoredEntry {
	return StoredEntry{
		Path:       e.Path,
		IsDir:      e.IsDir,
		Size:       e.Size,
		Mtime:      e.Mtime,
		IsSymlink:  e.IsSymlink,
		LinkTarget: e.LinkTarget,
	}
}

// ChangedSince reports whether entry differs from its previously stored
// record: true if there is no stored record, the directory flag flips,
// the size differs, or the truncated mtime differs.
func ChangedSince(entry FileEntry, stored *StoredEntry) bool {
	if stored == nil {
		return true
	}
	if entry.IsDir != stored.IsDir {
		return true
	}
	if entry.Size != stored.Size {
		return true
	}
	if int64(entry.Mtime) != int64(stored.Mtime) {
		return true
	}
	return false
}
