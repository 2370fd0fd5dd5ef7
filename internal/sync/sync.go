// Package sync is the reconciliation coordinator: one call runs the
// full snapshot -> plan -> execute -> persist pipeline for a single
// profile.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/syncd/filesync/internal/config"
	"github.com/syncd/filesync/internal/execute"
	"github.com/syncd/filesync/internal/logging"
	"github.com/syncd/filesync/internal/metrics"
	"github.com/syncd/filesync/internal/pathmodel"
	"github.com/syncd/filesync/internal/plan"
	"github.com/syncd/filesync/internal/remotecopy"
	"github.com/syncd/filesync/internal/snapshot"
	"github.com/syncd/filesync/internal/state"
	"github.com/syncd/filesync/internal/transport"
)

// Error wraps every failure the coordinator reports, with Op naming
// the pipeline step that failed (a blocking conflict set is reported
// with Op "plan"). Auth marks an authentication problem surfaced while
// applying operations.
type Error struct {
	Op   string
	Err  error
	Auth bool
}

func (e *Error) Error() string { return fmt.Sprintf("sync: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// errConflictsDetected is returned (wrapped in *Error) whenever the
// plan contains a blocking conflict.
var errConflictsDetected = fmt.Errorf("Conflicts detected; resolve before rerunning.")

// Coordinator runs one profile's pipeline. PreConnectDone tracks
// whether the pre-connect hook has already run for this instance's
// lifetime - an explicit field rather than a package-level flag, so
// each profile (and each test) gets its own independent state.
type Coordinator struct {
	Settings       config.Settings
	MergeBaseDir   string
	PreConnectDone bool

	Now func() int64
}

// New builds a Coordinator for the given daemon settings, with the
// merge base cache rooted under the state directory.
func New(settings config.Settings) *Coordinator {
	return &Coordinator{
		Settings:     settings,
		MergeBaseDir: filepath.Join(settings.StateDir, "merge-cache"),
	}
}

// Options configures one Run call.
type Options struct {
	DryRun bool
}

// Run executes the full pipeline for one profile document, logging
// progress through ctx's logger and recording metrics as it goes.
func (c *Coordinator) Run(ctx context.Context, cfg *config.Config, opts Options) error {
	logger := logging.From(ctx).With(slog.String("profile", cfg.Profile.Name))
	ctx = logging.WithLogger(ctx, logger)
	timer := metrics.StartRun(cfg.Profile.Name)
	defer timer.ObserveDuration()

	epA, epB, err := c.prepareEndpoints(cfg)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "prepare_endpoints", Err: err}
	}

	if err := c.runPreConnect(ctx, cfg); err != nil {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "pre_connect", Err: err}
	}

	snapA, snapB, err := c.snapshotBoth(ctx, cfg, epA, epB)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "snapshot", Err: err}
	}

	st, err := state.Load(c.Settings.StateDir, cfg.Profile.Name)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "load_state", Err: err}
	}

	now := c.now()
	output := plan.Plan(plan.Input{
		SnapshotA: snapA,
		SnapshotB: snapB,
		State:     st,
		EndpointA: epA,
		EndpointB: epB,
		Config:    planConfig(cfg),
		Now:       func() int64 { return now },
	})

	logger.Info("plan complete",
		slog.Int("operations", len(output.Operations)),
		slog.Int("conflicts", len(output.Conflicts)))
	for _, op := range output.Operations {
		logger.Info("operation", slog.String("type", string(op.Type)), slog.String("path", op.Path), slog.String("reason", op.Reason))
	}
	for _, cf := range output.Conflicts {
		logger.Warn("conflict", slog.String("path", cf.Path), slog.String("reason", cf.Reason), slog.String("resolution", cf.Resolution))
		metrics.ConflictsTotal.WithLabelValues(cfg.Profile.Name, cf.Reason).Inc()
	}

	blocking := blockingConflicts(output.Conflicts)
	if len(blocking) > 0 {
		if !opts.DryRun {
			applyConflicts(st, output.Conflicts)
			if err := state.Save(c.Settings.StateDir, st); err != nil {
				metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
				return &Error{Op: "persist_state", Err: err}
			}
		}
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "conflict").Inc()
		return &Error{Op: "plan", Err: errConflictsDetected}
	}

	if opts.DryRun {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "dry_run").Inc()
		return nil
	}

	applyErr := execute.Apply(ctx, output.Operations, execute.Options{
		MergeBaseDir: c.MergeBaseDir,
		CopyOptions:  remotecopy.Options{},
	})
	if applyErr != nil {
		if strings.Contains(applyErr.Error(), "Permission denied") ||
			strings.Contains(applyErr.Error(), transport.PromptMessage) {
			metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "auth_error").Inc()
			return &Error{Op: "apply", Err: applyErr, Auth: true}
		}
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "apply", Err: applyErr}
	}
	metrics.OperationsApplied.WithLabelValues(cfg.Profile.Name).Add(float64(len(output.Operations)))

	finalA, finalB, err := c.snapshotBoth(ctx, cfg, epA, epB)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "resnapshot", Err: err}
	}
	for _, entry := range finalA {
		state.RecordEntry(st, epA.ID, entry)
	}
	for _, entry := range finalB {
		state.RecordEntry(st, epB.ID, entry)
	}
	applyConflicts(st, output.Conflicts)

	if err := state.Save(c.Settings.StateDir, st); err != nil {
		metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "error").Inc()
		return &Error{Op: "persist_state", Err: err}
	}

	metrics.RunsTotal.WithLabelValues(cfg.Profile.Name, "success").Inc()
	return nil
}

func (c *Coordinator) now() int64 {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().Unix()
}

// prepareEndpoints converts the two configured endpoints into
// pathmodel.Endpoint values, creating the root directory of any local
// endpoint that doesn't exist yet. Endpoint ids come from the sorted
// config map keys, so the same profile always assigns the same two
// endpoints to the A/B slots.
func (c *Coordinator) prepareEndpoints(cfg *config.Config) (pathmodel.Endpoint, pathmodel.Endpoint, error) {
	ids := make([]string, 0, len(cfg.Endpoints))
	for id := range cfg.Endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) != 2 {
		return pathmodel.Endpoint{}, pathmodel.Endpoint{}, fmt.Errorf("profile must define exactly two endpoints, got %d", len(ids))
	}

	epA, err := toPathEndpoint(ids[0], cfg.Endpoints[ids[0]], cfg)
	if err != nil {
		return pathmodel.Endpoint{}, pathmodel.Endpoint{}, err
	}
	epB, err := toPathEndpoint(ids[1], cfg.Endpoints[ids[1]], cfg)
	if err != nil {
		return pathmodel.Endpoint{}, pathmodel.Endpoint{}, err
	}

	for _, ep := range []pathmodel.Endpoint{epA, epB} {
		if err := ep.Validate(); err != nil {
			return pathmodel.Endpoint{}, pathmodel.Endpoint{}, err
		}
		if ep.Kind == pathmodel.KindLocal {
			info, statErr := os.Stat(ep.RootPath)
			switch {
			case os.IsNotExist(statErr):
				if mkErr := os.MkdirAll(ep.RootPath, 0o755); mkErr != nil {
					return pathmodel.Endpoint{}, pathmodel.Endpoint{}, mkErr
				}
			case statErr != nil:
				return pathmodel.Endpoint{}, pathmodel.Endpoint{}, statErr
			case !info.IsDir():
				return pathmodel.Endpoint{}, pathmodel.Endpoint{}, fmt.Errorf("endpoint %q root %q is not a directory", ep.ID, ep.RootPath)
			}
		}
	}
	return epA, epB, nil
}

func toPathEndpoint(id string, ep config.Endpoint, cfg *config.Config) (pathmodel.Endpoint, error) {
	kind := pathmodel.KindLocal
	if ep.Kind == "remote" {
		kind = pathmodel.KindRemote
	}
	shellCommand := ep.ShellCommand
	if shellCommand == "" {
		shellCommand = cfg.SSH.ShellCommand
	}
	preConnect := ep.PreConnectCommand
	if preConnect == "" {
		preConnect = cfg.SSH.PreConnectCommand
	}
	rootPath := ep.Path
	if kind == pathmodel.KindLocal {
		rootPath = expandHome(rootPath)
	}
	return pathmodel.Endpoint{
		ID:                id,
		Kind:              kind,
		RootPath:          rootPath,
		Host:              ep.Host,
		ShellCommand:      shellCommand,
		PreConnectCommand: preConnect,
	}, nil
}

// expandHome resolves a leading "~" in a local endpoint root so
// profiles can be written portably across machines.
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// runPreConnect runs the profile's pre-connect hook at most once per
// Coordinator instance, with the process environment overlaid by
// ssh.env (profile values win) - a value-level merge, not a mutation
// of the real process environment.
func (c *Coordinator) runPreConnect(ctx context.Context, cfg *config.Config) error {
	if c.PreConnectDone {
		return nil
	}
	c.PreConnectDone = true

	cmd := cfg.SSH.PreConnectCommand
	if cmd == "" {
		ids := make([]string, 0, len(cfg.Endpoints))
		for id := range cfg.Endpoints {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if hook := cfg.Endpoints[id].PreConnectCommand; hook != "" {
				cmd = hook
				break
			}
		}
	}
	if cmd == "" {
		return nil
	}

	env := mergedEnv(cfg.SSH.Env)
	result, err := transport.RunShell(ctx, cmd, env)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("pre-connect command exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func mergedEnv(overlay map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) snapshotBoth(ctx context.Context, cfg *config.Config, epA, epB pathmodel.Endpoint) (map[string]pathmodel.FileEntry, map[string]pathmodel.FileEntry, error) {
	snapA, err := c.snapshotOne(ctx, epA, cfg.Ignore.Patterns)
	if err != nil {
		return nil, nil, err
	}
	snapB, err := c.snapshotOne(ctx, epB, cfg.Ignore.Patterns)
	if err != nil {
		return nil, nil, err
	}
	return snapA, snapB, nil
}

func (c *Coordinator) snapshotOne(ctx context.Context, ep pathmodel.Endpoint, ignore []string) (map[string]pathmodel.FileEntry, error) {
	if ep.Kind == pathmodel.KindLocal {
		return snapshot.Local(ep.RootPath, ignore)
	}
	return snapshot.Remote(ctx, transport.Endpoint{
		Host:         ep.Host,
		ShellCommand: ep.ShellCommand,
	}, ep.RootPath, ignore)
}

func planConfig(cfg *config.Config) plan.Config {
	return plan.Config{
		Policy:         plan.Policy(cfg.Conflict.Policy),
		PreferEndpoint: cfg.Conflict.Prefer,
		ManualBehavior: plan.ManualBehavior(cfg.Conflict.ManualBehavior),
		MergeTextFiles: cfg.Conflict.MergeTextFiles,
		MergeFallback:  plan.Policy(cfg.Conflict.MergeFallback),
	}
}

func blockingConflicts(conflicts []plan.Conflict) []plan.Conflict {
	var out []plan.Conflict
	for _, c := range conflicts {
		if c.Reason != "manual_copy_both" {
			out = append(out, c)
		}
	}
	return out
}

func applyConflicts(st *state.Profile, conflicts []plan.Conflict) {
	for _, c := range conflicts {
		var metadata map[string]interface{}
		if c.EntryA != nil || c.EntryB != nil {
			metadata = map[string]interface{}{"a": c.EntryA, "b": c.EntryB}
		}
		state.RecordConflict(st, state.ConflictInput{
			Path:       c.Path,
			Reason:     c.Reason,
			Endpoints:  [2]string{c.EndpointA, c.EndpointB},
			Resolution: c.Resolution,
			Timestamp:  float64(c.Timestamp),
			Metadata:   metadata,
		})
	}
}
