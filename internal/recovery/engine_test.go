package recovery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/fingerprint"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/notify"
	"github.com/hpungsan/tether/internal/notify/notifytest"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine *Engine
	clock  *clockwork.FakeClock
	rec    *notifytest.Recorder
	src    fingerprint.Static
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clock := clockwork.NewFakeClockAt(t0)
	rec := &notifytest.Recorder{}
	src := fingerprint.Static{
		Env:      map[string]string{"SHELL": "/bin/zsh", "TERM": "xterm-256color"},
		Pid:      4242,
		Ppid:     4000,
		Tty:      "/dev/pts/3",
		User:     "dev",
		OS:       "linux",
		Captured: t0,
	}
	e := New(database, cfg, Options{Clock: clock, Observer: rec, Source: src})
	t.Cleanup(e.Close)
	return &fixture{engine: e, clock: clock, rec: rec, src: src}
}

func TestInitialize_StartsMonitor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.engine.Initialize(ctx, f.engine.Fingerprint())
	require.NoError(t, err)
	require.Equal(t, "/dev/pts/3", s.TTY)
	require.Equal(t, 4242, s.PID)
	require.True(t, f.engine.Sessions().Watching(s.ID))

	again, err := f.engine.Initialize(ctx, f.engine.Fingerprint())
	require.NoError(t, err)
	require.Equal(t, s.ID, again.ID)
	require.Equal(t, 2, again.ConnectionCount)
}

func TestRecoverSession_LiveMatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.engine.Initialize(ctx, f.engine.Fingerprint())
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	got := f.engine.RecoverSession(ctx, nil)
	require.NotNil(t, got)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, 1, got.RecoveryCount)
	require.Equal(t, 2, got.ConnectionCount)
	require.NotNil(t, got.RecoverySource)
	require.Equal(t, model.SourceTTY, *got.RecoverySource)
	require.Equal(t, 1, f.rec.Count(notify.EventSessionRecovered))
}

func TestRecoverSession_DisconnectedNeedsOptIn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	fp := f.engine.Fingerprint()

	s, err := f.engine.Initialize(ctx, fp)
	require.NoError(t, err)
	require.True(t, f.engine.Disconnect(ctx, s.ID))
	require.False(t, f.engine.Sessions().Watching(s.ID))

	require.Nil(t, f.engine.RecoverSession(ctx, &fp))

	require.True(t, f.engine.EnableSessionRecovery(ctx, s.ID))
	require.Equal(t, 1, f.rec.Count(notify.EventRecoveryEnabled))
	require.Zero(t, f.engine.Sessions().Get(ctx, s.ID).RecoveryCount)

	got := f.engine.RecoverSession(ctx, &fp)
	require.NotNil(t, got)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, model.SessionActive, got.Status)
	require.Equal(t, 1, got.RecoveryCount)
	require.True(t, f.engine.Sessions().Watching(s.ID))
}

func TestRecoverSession_NeverCreates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.Nil(t, f.engine.RecoverSession(ctx, nil))
	require.Zero(t, f.rec.Count(notify.EventSessionCreated))
}

func TestRecoverByID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.engine.Initialize(ctx, f.engine.Fingerprint())
	require.NoError(t, err)
	require.True(t, f.engine.Disconnect(ctx, s.ID))

	got := f.engine.RecoverByID(ctx, s.ID, nil)
	require.NotNil(t, got)
	require.Equal(t, model.SourceID, *got.RecoverySource)
	require.Nil(t, f.engine.RecoverByID(ctx, "missing", nil))
}

func TestEnableSessionRecovery_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	require.False(t, f.engine.EnableSessionRecovery(context.Background(), "missing"))
	require.False(t, f.engine.Disconnect(context.Background(), "missing"))
}

func TestStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ShellIntegration = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	s, err := f.engine.Initialize(ctx, f.engine.Fingerprint())
	require.NoError(t, err)

	_, err = f.engine.Activity().RecordTask(ctx, s.ID, "task-1")
	require.NoError(t, err)
	_, err = f.engine.Activity().RecordFile(ctx, s.ID, "/a.go")
	require.NoError(t, err)
	_, err = f.engine.Activity().RecordFile(ctx, s.ID, "/b.go")
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	sum := f.engine.Status(ctx, s.ID)
	require.NotNil(t, sum)
	require.Equal(t, s.ID, sum.SessionID)
	require.Equal(t, 1, sum.TaskCount)
	require.Equal(t, 2, sum.FileCount)
	require.Equal(t, (90 * time.Minute).Milliseconds(), sum.SessionDurationMs)
	require.True(t, sum.ShellIntegrated)
	require.NotNil(t, sum.CurrentTaskID)
	require.Equal(t, "task-1", *sum.CurrentTaskID)
	require.Nil(t, sum.Recovery)

	require.True(t, f.engine.EnableSessionRecovery(ctx, s.ID))
	sum = f.engine.Status(ctx, s.ID)
	require.NotNil(t, sum.Recovery)
	require.True(t, sum.Recovery.Enabled)
	require.Zero(t, sum.Recovery.Count)

	require.Nil(t, f.engine.Status(ctx, "missing"))
}

func TestShellEnv(t *testing.T) {
	s := &model.Session{ID: "01J0ABC", TTY: "/dev/pts/3", PID: 4242, PPID: 4000}

	off := newFixture(t, nil)
	require.Empty(t, off.engine.ShellEnv(s))

	cfg := config.DefaultConfig()
	cfg.ShellIntegration = true
	on := newFixture(t, cfg)
	env := on.engine.ShellEnv(s)
	require.Equal(t, map[string]string{
		EnvSessionID: "01J0ABC",
		EnvTTY:       "/dev/pts/3",
		EnvPID:       "4242",
		EnvPPID:      "4000",
	}, env)
	require.Empty(t, on.engine.ShellEnv(nil))

	require.Equal(t,
		"export TETHER_PID='4242'\nexport TETHER_PPID='4000'\nexport TETHER_SESSION_ID='01J0ABC'\nexport TETHER_TTY='/dev/pts/3'\n",
		ExportLines(env))
}

func TestDetectWindows(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.engine.Initialize(ctx, f.engine.Fingerprint())
	require.NoError(t, err)

	for _, step := range []time.Duration{0, time.Minute, time.Minute, 2 * time.Hour} {
		f.clock.Advance(step)
		_, err := f.engine.Activity().RecordTask(ctx, s.ID, "task-1")
		require.NoError(t, err)
	}

	windows, err := f.engine.DetectWindows(ctx, s.ID, false)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	require.Equal(t, t0, windows[0].StartTime)
	require.Equal(t, t0.Add(2*time.Minute), windows[0].EndTime)

	_, err = f.engine.DetectWindows(ctx, "missing", false)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestShellInit(t *testing.T) {
	zsh, err := ShellInit("zsh")
	require.NoError(t, err)
	require.Contains(t, zsh, "add-zsh-hook zshexit _tether_zshexit")
	require.Contains(t, zsh, "tether init --export-env")

	bash, err := ShellInit(" Bash ")
	require.NoError(t, err)
	require.True(t, strings.Contains(bash, "EXIT"))

	_, err = ShellInit("fish")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
