// Package scheduler drives scheduled profiles on intervals or cron
// expressions, enumerating due profiles and ticking them one at a
// time. Reload is cooperative: a caller signals it through Reload()
// and the next loop iteration re-enumerates profiles, picking up
// adds, removes, and interval changes without restarting the process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dsh2dsh/cron/v3"

	"github.com/syncd/filesync/internal/config"
	"github.com/syncd/filesync/internal/logging"
	"github.com/syncd/filesync/internal/sync"
)

// Bounds on the idle sleep: never busy-loop tighter than a second, and
// never sleep longer than five seconds when nothing at all is
// scheduled.
const (
	minSleep  = 1 * time.Second
	idleSleep = 5 * time.Second
)

// ProfileLister enumerates the profiles currently eligible for
// scheduling. Implementations re-read configuration from disk on each
// call so a reload actually observes changes.
type ProfileLister func() ([]*config.Config, error)

// ProfilesFromDir reads every *.yml/*.yaml document in dir and returns
// the ones with schedule.enabled set: one profile document per file
// under a profiles directory.
func ProfilesFromDir(dir string) ProfileLister {
	return func() ([]*config.Config, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("scheduler: reading profiles dir %q: %w", dir, err)
		}
		var out []*config.Config
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			if ext != ".yml" && ext != ".yaml" {
				continue
			}
			cfg, err := config.ParseConfig(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			if cfg.Schedule.Enabled {
				out = append(out, cfg)
			}
		}
		return out, nil
	}
}

// profileState tracks one scheduled profile's next due time between
// ticks. It lives only for the duration of one enumeration - a reload
// replaces the whole slice, so an interval change takes effect
// immediately rather than carrying over a stale NextRun.
type profileState struct {
	cfg      *config.Config
	nextRun  time.Time
	schedule cron.Schedule // nil when the profile uses a plain interval
}

func (p *profileState) advance(now time.Time) {
	if p.schedule != nil {
		p.nextRun = p.schedule.Next(now)
		return
	}
	interval := time.Duration(p.cfg.Schedule.IntervalSeconds) * time.Second
	p.nextRun = now.Add(interval)
}

func newProfileState(cfg *config.Config, now time.Time) (*profileState, error) {
	p := &profileState{cfg: cfg}
	if cfg.Schedule.Cron != "" {
		sched, err := cron.ParseStandard(cfg.Schedule.Cron)
		if err != nil {
			return nil, fmt.Errorf("profile %q: invalid schedule.cron %q: %w", cfg.Profile.Name, cfg.Schedule.Cron, err)
		}
		p.schedule = sched
		if cfg.Schedule.RunOnStart {
			p.nextRun = now
		} else {
			p.nextRun = sched.Next(now)
		}
		return p, nil
	}
	interval := time.Duration(cfg.Schedule.IntervalSeconds) * time.Second
	if cfg.Schedule.RunOnStart {
		p.nextRun = now
	} else {
		p.nextRun = now.Add(interval)
	}
	return p, nil
}

// Scheduler drives every schedule-enabled profile found by ListProfiles.
type Scheduler struct {
	Settings       config.Settings
	ListProfiles   ProfileLister
	NewCoordinator func() *sync.Coordinator
	Now            func() time.Time

	// RunOnce performs exactly one tick (running whatever is due right
	// now, once) and returns, rather than looping forever - the
	// daemon's run_once mode.
	RunOnce bool

	reload chan struct{}
}

// New builds a Scheduler for the given daemon settings and profile
// source.
func New(settings config.Settings, lister ProfileLister) *Scheduler {
	return &Scheduler{
		Settings:       settings,
		ListProfiles:   lister,
		NewCoordinator: func() *sync.Coordinator { return sync.New(settings) },
		Now:            time.Now,
		reload:         make(chan struct{}, 1),
	}
}

// Reload requests re-enumeration of profiles at the scheduler's next
// opportunity. Safe to call from any goroutine (e.g. a signal
// handler); coalesces multiple pending reloads into one.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run drives the scheduling loop until ctx is cancelled (graceful
// stop: the loop finishes whatever run is in flight and returns
// without starting another) or, in RunOnce mode, until one tick
// completes.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logging.From(ctx)

	profiles, err := s.enumerate()
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		now := s.now()
		dueAny := false
		for _, p := range profiles {
			if p.nextRun.After(now) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			dueAny = true
			s.runProfile(ctx, logger, p)
			p.advance(s.now())
		}

		if s.RunOnce {
			return nil
		}
		if dueAny {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.reload:
			reloaded, err := s.enumerate()
			if err != nil {
				logger.Error("reload failed", slog.String("error", err.Error()))
				continue
			}
			profiles = reloaded
		case <-time.After(s.sleepDuration(profiles)):
		}
	}
}

func (s *Scheduler) enumerate() ([]*profileState, error) {
	cfgs, err := s.ListProfiles()
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*profileState, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := newProfileState(cfg, now)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Profile.Name < out[j].cfg.Profile.Name })
	return out, nil
}

// runProfile installs a per-profile file sink for the duration of the
// run (if a log directory is configured), invokes the coordinator, and
// always removes the sink afterward - even on failure. A run failure
// is logged, not propagated: the scheduler keeps going.
func (s *Scheduler) runProfile(ctx context.Context, logger *slog.Logger, p *profileState) {
	name := p.cfg.Profile.Name
	runLogger := logger.With(slog.String("profile", name))

	if s.Settings.LogDir != "" {
		if err := os.MkdirAll(s.Settings.LogDir, 0o755); err == nil {
			path := filepath.Join(s.Settings.LogDir, name+".log")
			fileLogger, closeSink, sinkErr := logging.FileSink(path, slog.LevelInfo)
			if sinkErr == nil {
				runLogger = fileLogger.With(slog.String("profile", name))
				defer func() { _ = closeSink() }()
			} else {
				runLogger.Warn("could not install per-profile log sink", slog.String("error", sinkErr.Error()))
			}
		}
	}

	runCtx := logging.WithLogger(ctx, runLogger)
	coordinator := s.NewCoordinator()
	if err := coordinator.Run(runCtx, p.cfg, sync.Options{}); err != nil {
		runLogger.Error("scheduled run failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) sleepDuration(profiles []*profileState) time.Duration {
	if len(profiles) == 0 {
		return idleSleep
	}
	now := s.now()
	earliest := profiles[0].nextRun
	for _, p := range profiles[1:] {
		if p.nextRun.Before(earliest) {
			earliest = p.nextRun
		}
	}
	d := earliest.Sub(now)
	if d < minSleep {
		return minSleep
	}
	return d
}
