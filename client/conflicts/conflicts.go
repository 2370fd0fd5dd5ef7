// Package conflicts implements the "conflicts" command: it reads a
// profile's persisted state and renders its conflict history as a
// human- or machine-readable report. A small builder over a state
// read, producing a report rather than a live mutation.
package conflicts

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/muesli/reflow/padding"
	"github.com/muesli/reflow/truncate"

	"github.com/syncd/filesync/internal/state"
)

// Report is one profile's conflict history, ready to render.
type Report struct {
	resolved   bool
	unresolved bool

	profile string
	entries []state.Conflict
}

// NewReport builds a Report for the given profile name, with no
// filtering applied yet.
func NewReport(profileName string) *Report {
	return &Report{profile: profileName}
}

// WithUnresolvedOnly restricts the report to conflicts that have never
// been given a resolution - the ones still blocking reruns or awaiting
// manual attention.
func (r *Report) WithUnresolvedOnly(v bool) *Report {
	r.unresolved = v
	return r
}

// WithResolvedOnly restricts the report to conflicts that already
// carry a resolution (e.g. a manual_copy_both run that completed).
func (r *Report) WithResolvedOnly(v bool) *Report {
	r.resolved = v
	return r
}

// Load reads the profile's state file from stateDir and populates the
// report's entries, newest first.
func (r *Report) Load(stateDir string) error {
	st, err := state.Load(stateDir, r.profile)
	if err != nil {
		return err
	}
	entries := make([]state.Conflict, 0, len(st.Conflicts))
	for _, c := range st.Conflicts {
		if r.unresolved && c.Resolution != "" {
			continue
		}
		if r.resolved && c.Resolution == "" {
			continue
		}
		entries = append(entries, c)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	r.entries = entries
	return nil
}

// Len reports how many conflicts matched the configured filters.
func (r *Report) Len() int { return len(r.entries) }

const (
	pathColumnWidth   = 24
	reasonColumnWidth = 20
)

// column truncates overlong cell text (ellipsis-tailed) and pads short
// text to the column width, so a pathological path can't shear the
// table apart the way bare printf padding would.
func column(s string, width uint) string {
	return padding.String(truncate.StringWithTail(s, width, "…"), width)
}

// WriteText renders a one-line-per-conflict human-readable report,
// followed by a summary of how long the listed conflicts have been
// sitting unaddressed.
func (r *Report) WriteText(w io.Writer) error {
	if len(r.entries) == 0 {
		_, err := fmt.Fprintf(w, "profile %q: no conflicts recorded\n", r.profile)
		return err
	}
	for _, c := range r.entries {
		ts := time.Unix(int64(c.Timestamp), 0).UTC().Format(time.RFC3339)
		resolution := c.Resolution
		if resolution == "" {
			resolution = "unresolved"
		}
		if _, err := fmt.Fprintf(w, "%s  %s %s %s<->%s  %s\n",
			ts, column(c.Path, pathColumnWidth), column(c.Reason, reasonColumnWidth),
			c.Endpoints[0], c.Endpoints[1], resolution); err != nil {
			return err
		}
	}
	return r.writeAgeSummary(w)
}

// writeAgeSummary appends median and p90 conflict age, computed over
// the filtered entries' record timestamps.
func (r *Report) writeAgeSummary(w io.Writer) error {
	now := float64(time.Now().Unix())
	ages := make([]float64, 0, len(r.entries))
	for _, c := range r.entries {
		if age := now - c.Timestamp; age > 0 {
			ages = append(ages, age)
		}
	}
	if len(ages) == 0 {
		_, err := fmt.Fprintf(w, "\n%d conflict(s)\n", len(r.entries))
		return err
	}
	median, err := stats.Median(ages)
	if err != nil {
		return err
	}
	p90, err := stats.Percentile(ages, 90)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\n%d conflict(s); median age %s, p90 %s\n",
		len(r.entries), formatAge(median), formatAge(p90))
	return err
}

func formatAge(seconds float64) string {
	return (time.Duration(seconds) * time.Second).Round(time.Second).String()
}

// WriteJSON renders the filtered conflict list as a JSON array, for
// consumers that want to parse the report rather than read it.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.entries)
}
