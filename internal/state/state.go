// Package state persists one JSON document per profile: the last
// agreed metadata for every (endpoint, path) pair, plus the ordered
// history of conflicts that run has recorded.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncd/filesync/internal/pathmodel"
)

// CurrentVersion is the schema version written by this package. Older
// versions encountered on load are upgraded in-memory; unknown newer
// versions are rejected.
const CurrentVersion = 4

var supportedVersions = map[int]bool{1: true, 2: true, 3: true, CurrentVersion: true}

// Error wraps failures reading or parsing a state file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("state: %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Conflict is one recorded conflict resolution (or blocking refusal)
// for a single path.
type Conflict struct {
	Path       string                 `json:"path"`
	Reason     string                 `json:"reason"`
	Endpoints  [2]string              `json:"endpoints"`
	Timestamp  float64                `json:"timestamp"`
	Resolution string                 `json:"resolution,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Profile is the full persisted state for one sync profile.
type Profile struct {
	Version   int                                         `json:"version"`
	Name      string                                      `json:"profile"`
	Endpoints map[string]map[string]pathmodel.StoredEntry `json:"endpoints"`
	Conflicts []Conflict                                  `json:"conflicts"`
}

// New returns an empty state for a profile that has never been synced.
func New(profileName string) *Profile {
	return &Profile{
		Version:   CurrentVersion,
		Name:      profileName,
		Endpoints: make(map[string]map[string]pathmodel.StoredEntry),
	}
}

// statePath resolves <stateDir>/<profile>.json, with "/" in the
// profile name replaced by "_" so nested profile names can't escape
// the directory.
func statePath(stateDir, profileName string) string {
	safe := strings.ReplaceAll(profileName, "/", "_")
	return filepath.Join(stateDir, safe+".json")
}

// Load reads a profile's state file from stateDir. A missing file is
// not an error; it yields an empty state. An unsupported schema
// version is rejected; known older versions are accepted as-is since
// the on-disk shape hasn't changed across versions 1-4, only which
// fields were guaranteed populated.
func Load(stateDir, profileName string) (*Profile, error) {
	path := statePath(stateDir, profileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(profileName), nil
	}
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if !supportedVersions[p.Version] {
		return nil, &Error{Path: path, Err: fmt.Errorf("unsupported state schema version %d", p.Version)}
	}
	if p.Name == "" {
		return nil, &Error{Path: path, Err: fmt.Errorf("state file missing profile name")}
	}
	if p.Endpoints == nil {
		p.Endpoints = make(map[string]map[string]pathmodel.StoredEntry)
	}
	p.Version = CurrentVersion
	return &p, nil
}

// Save serializes state deterministically (sorted map keys, via
// encoding/json's native map ordering) and writes it in one call.
func Save(stateDir string, p *Profile) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return &Error{Path: stateDir, Err: err}
	}
	p.Version = CurrentVersion
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return &Error{Path: stateDir, Err: err}
	}
	path := statePath(stateDir, p.Name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

// RecordEntry stores the current metadata for one (endpoint, path)
// pair, overwriting any prior record.
func RecordEntry(p *Profile, endpointID string, entry pathmodel.FileEntry) {
	if p.Endpoints[endpointID] == nil {
		p.Endpoints[endpointID] = make(map[string]pathmodel.StoredEntry)
	}
	p.Endpoints[endpointID][entry.Path] = pathmodel.FromFileEntry(entry)
}

// ConflictInput is the set of fields a caller supplies when recording
// a conflict; Timestamp defaults to now if zero.
type ConflictInput struct {
	Path       string
	Reason     string
	Endpoints  [2]string
	Resolution string
	Timestamp  float64
	Metadata   map[string]interface{}
}

// RecordConflict appends one conflict record to the profile's history.
func RecordConflict(p *Profile, in ConflictInput) {
	ts := in.Timestamp
	if ts == 0 {
		ts = float64(time.Now().UnixNano()) / 1e9
	}
	p.Conflicts = append(p.Conflicts, Conflict{
		Path:       in.Path,
		Reason:     in.Reason,
		Endpoints:  in.Endpoints,
		Timestamp:  ts,
		Resolution: in.Resolution,
		Metadata:   in.Metadata,
	})
}

// LastEntry fetches the previously stored entry for an endpoint/path,
// or nil if there is none.
func LastEntry(p *Profile, endpointID, relPath string) *pathmodel.StoredEntry {
	entries, ok := p.Endpoints[endpointID]
	if !ok {
		return nil
	}
	entry, ok := entries[relPath]
	if !ok {
		return nil
	}
	return &entry
}
