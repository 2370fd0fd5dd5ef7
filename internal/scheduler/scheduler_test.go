package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncd/filesync/internal/config"
	"github.com/syncd/filesync/internal/sync"
)

func enabledProfile(name string, intervalSeconds int, runOnStart bool) *config.Config {
	return &config.Config{
		Profile: config.Profile{Name: name},
		Endpoints: map[string]config.Endpoint{
			"a": {Kind: "local", Path: "/tmp/a"},
			"b": {Kind: "local", Path: "/tmp/b"},
		},
		Schedule: config.ScheduleConfig{
			Enabled:         true,
			IntervalSeconds: intervalSeconds,
			RunOnStart:      runOnStart,
		},
	}
}

func TestSchedulerRunOnceRunsDueProfiles(t *testing.T) {
	var runs int32
	now := time.Unix(1700000000, 0)

	profile := enabledProfile("p1", 3600, true)
	profile.Endpoints = map[string]config.Endpoint{
		"a": {Kind: "local", Path: filepath.Join(t.TempDir(), "a")},
		"b": {Kind: "local", Path: filepath.Join(t.TempDir(), "b")},
	}
	s := New(config.Settings{}, func() ([]*config.Config, error) {
		return []*config.Config{profile}, nil
	})
	s.Now = func() time.Time { return now }
	s.RunOnce = true
	s.NewCoordinator = func() *sync.Coordinator {
		atomic.AddInt32(&runs, 1)
		c := sync.New(config.Settings{StateDir: t.TempDir()})
		c.Now = func() int64 { return now.Unix() }
		return c
	}

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestProfileStateAdvanceInterval(t *testing.T) {
	cfg := enabledProfile("p1", 60, true)
	now := time.Unix(1700000000, 0)

	p, err := newProfileState(cfg, now)
	require.NoError(t, err)
	assert.True(t, p.nextRun.Equal(now), "run_on_start profiles are due immediately")

	p.advance(now)
	assert.Equal(t, now.Add(60*time.Second), p.nextRun)
}

func TestProfileStateRunOnStartFalseDelaysFirstRun(t *testing.T) {
	cfg := enabledProfile("p1", 60, false)
	now := time.Unix(1700000000, 0)

	p, err := newProfileState(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(60*time.Second), p.nextRun)
}

func TestProfileStateInvalidCron(t *testing.T) {
	cfg := enabledProfile("p1", 60, true)
	cfg.Schedule.Cron = "not a cron expression"

	_, err := newProfileState(cfg, time.Unix(1700000000, 0))
	require.Error(t, err)
}

func TestProfileStateCronAdvance(t *testing.T) {
	cfg := enabledProfile("p1", 0, false)
	cfg.Schedule.Cron = "0 * * * *" // top of every hour

	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	p, err := newProfileState(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), p.nextRun)

	p.advance(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), p.nextRun)
}

func TestSchedulerSleepDurationBounds(t *testing.T) {
	s := New(config.Settings{}, nil)
	now := time.Unix(1700000000, 0)
	s.Now = func() time.Time { return now }

	assert.Equal(t, idleSleep, s.sleepDuration(nil))

	soon := &profileState{nextRun: now.Add(100 * time.Millisecond)}
	assert.Equal(t, minSleep, s.sleepDuration([]*profileState{soon}))

	later := &profileState{nextRun: now.Add(10 * time.Second)}
	assert.Equal(t, 10*time.Second, s.sleepDuration([]*profileState{later}))
}

func TestProfilesFromDirSkipsDisabled(t *testing.T) {
	dir := t.TempDir()
	enabled := `
profile:
  name: enabled
endpoints:
  a: {kind: local, path: ` + filepath.Join(dir, "a") + `}
  b: {kind: local, path: ` + filepath.Join(dir, "b") + `}
schedule:
  enabled: true
`
	disabled := `
profile:
  name: disabled
endpoints:
  a: {kind: local, path: ` + filepath.Join(dir, "a") + `}
  b: {kind: local, path: ` + filepath.Join(dir, "b") + `}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enabled.yml"), []byte(enabled), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disabled.yml"), []byte(disabled), 0o644))

	cfgs, err := ProfilesFromDir(dir)()
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "enabled", cfgs[0].Profile.Name)
}

func TestProfilesFromDirMissingDirIsNotError(t *testing.T) {
	cfgs, err := ProfilesFromDir(filepath.Join(t.TempDir(), "missing"))()
	require.NoError(t, err)
	assert.Empty(t, cfgs)
}
