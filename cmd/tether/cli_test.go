package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/export"
	"github.com/hpungsan/tether/internal/fingerprint"
	"github.com/hpungsan/tether/internal/metrics"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/recovery"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

const testTTY = "/dev/pts/4"

// setupTestDeps wires an engine over a temp database with a fixed clock and
// a fixed terminal identity.
func setupTestDeps(t *testing.T, cfg *config.Config) *appDeps {
	t.Helper()
	t.Setenv(recovery.EnvSessionID, "")

	baseDir := t.TempDir()
	database, err := db.Init(baseDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := metrics.New()
	engine := recovery.New(database, cfg, recovery.Options{
		Clock:    clockwork.NewFakeClockAt(t0),
		Observer: m,
		Source: fingerprint.Static{
			Pid: 4242, Ppid: 4241, Tty: testTTY, User: "dev", OS: "linux", Captured: t0,
		},
	})
	t.Cleanup(engine.Close)

	return &appDeps{db: database, engine: engine, metrics: m, baseDir: baseDir}
}

// run executes the CLI with args and returns what it wrote to stdout.
func run(t *testing.T, d *appDeps, args ...string) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := newCLIApp(d).Run(append([]string{"tether"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout
	return buf.String(), err
}

// mustRun is run that fails the test on error and decodes JSON into out.
func mustRun(t *testing.T, d *appDeps, out any, args ...string) {
	t.Helper()
	stdout, err := run(t, d, args...)
	require.NoError(t, err, "tether %s", strings.Join(args, " "))
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(stdout), out), "output: %s", stdout)
	}
}

func initSession(t *testing.T, d *appDeps) *model.Session {
	t.Helper()
	var s model.Session
	mustRun(t, d, &s, "init")
	require.NotEmpty(t, s.ID)
	return &s
}

type windowsOutput struct {
	Windows []*model.TimeWindow `json:"windows"`
	Count   int                 `json:"count"`
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", input: "2026-06-01T08:30:00Z", want: t0.Add(-30 * time.Minute)},
		{name: "rfc3339 with offset", input: "2026-06-01T11:00:00+02:00", want: t0},
		{name: "now", input: "now", want: t0},
		{name: "negative offset", input: "-90m", want: t0.Add(-90 * time.Minute)},
		{name: "positive offset", input: "+1h30m", want: t0.Add(90 * time.Minute)},
		{name: "padded", input: "  -1h ", want: t0.Add(-time.Hour)},
		{name: "empty", input: "", wantErr: true},
		{name: "bad offset", input: "-5x", wantErr: true},
		{name: "words", input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.input, t0)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseTime(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTime(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil", input: nil, expected: nil},
		{name: "repeated", input: []string{"work", "break"}, expected: []string{"work", "break"}},
		{name: "comma", input: []string{"work, meeting"}, expected: []string{"work", "meeting"}},
		{name: "blanks dropped", input: []string{" ", "work,,"}, expected: []string{"work"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, splitList(tt.input))
		})
	}
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"tether"}, expected: false},
		{name: "init command", args: []string{"tether", "init"}, expected: true},
		{name: "window command", args: []string{"tether", "window", "list"}, expected: true},
		{name: "help flag", args: []string{"tether", "--help"}, expected: true},
		{name: "version flag", args: []string{"tether", "-v"}, expected: true},
		{name: "unknown command", args: []string{"tether", "frobnicate"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCLIMode(tt.args); got != tt.expected {
				t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.expected)
			}
		})
	}
}

func TestNeedsNoStore(t *testing.T) {
	tests := []struct {
		args     []string
		expected bool
	}{
		{args: []string{"tether"}, expected: false},
		{args: []string{"tether", "help"}, expected: true},
		{args: []string{"tether", "-h"}, expected: true},
		{args: []string{"tether", "--version"}, expected: true},
		{args: []string{"tether", "shell-init", "zsh"}, expected: true},
		{args: []string{"tether", "status"}, expected: false},
	}

	for _, tt := range tests {
		if got := needsNoStore(tt.args); got != tt.expected {
			t.Errorf("needsNoStore(%v) = %v, want %v", tt.args, got, tt.expected)
		}
	}
}

func TestCLIShellInit(t *testing.T) {
	out, err := run(t, nil, "shell-init", "bash")
	require.NoError(t, err)
	require.Contains(t, out, "tether init --export-env")
	require.Contains(t, out, "trap")

	out, err = run(t, nil, "shell-init", "zsh")
	require.NoError(t, err)
	require.Contains(t, out, "add-zsh-hook zshexit")

	_, err = run(t, nil, "shell-init", "fish")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLIInitAndStatus(t *testing.T) {
	d := setupTestDeps(t, nil)

	s := initSession(t, d)
	require.Equal(t, testTTY, s.TTY)
	require.Equal(t, model.SessionActive, s.Status)

	t.Run("init again reconnects", func(t *testing.T) {
		again := initSession(t, d)
		require.Equal(t, s.ID, again.ID)
		require.Equal(t, 2, again.ConnectionCount)
	})

	t.Run("status resolves this terminal", func(t *testing.T) {
		var sum recovery.StatusSummary
		mustRun(t, d, &sum, "status")
		require.Equal(t, s.ID, sum.SessionID)
		require.Equal(t, model.SessionActive, sum.Status)
	})

	t.Run("fingerprint", func(t *testing.T) {
		var fp fingerprint.Fingerprint
		mustRun(t, d, &fp, "fingerprint")
		require.Equal(t, testTTY, fp.TTY)
		require.Equal(t, 4242, fp.PID)
	})

	t.Run("sessions", func(t *testing.T) {
		var out struct {
			Sessions []*model.Session `json:"sessions"`
			Count    int              `json:"count"`
		}
		mustRun(t, d, &out, "sessions")
		require.Equal(t, 1, out.Count)

		mustRun(t, d, &out, "sessions", "--status", "disconnected")
		require.Equal(t, 0, out.Count)

		_, err := run(t, d, "sessions", "--status", "zombie")
		require.Error(t, err)
	})
}

func TestCLIResolveSession(t *testing.T) {
	d := setupTestDeps(t, nil)

	_, err := run(t, d, "status")
	require.Error(t, err, "no session exists for this terminal yet")
	require.Contains(t, err.Error(), "tether init")

	s := initSession(t, d)

	var sum recovery.StatusSummary
	mustRun(t, d, &sum, "status", "--session", s.ID)
	require.Equal(t, s.ID, sum.SessionID)

	_, err = run(t, d, "status", "--session", "01NOPE")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[NOT_FOUND]")

	t.Setenv(recovery.EnvSessionID, "01FROMENV")
	_, err = run(t, d, "status")
	require.Error(t, err)
	require.Contains(t, err.Error(), "01FROMENV")
}

func TestCLIEnv(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ShellIntegration = true
	d := setupTestDeps(t, cfg)
	s := initSession(t, d)

	out, err := run(t, d, "init", "--export-env")
	require.NoError(t, err)
	require.Contains(t, out, "export TETHER_SESSION_ID='"+s.ID+"'")
	require.Contains(t, out, "export TETHER_TTY='"+testTTY+"'")

	out, err = run(t, d, "env")
	require.NoError(t, err)
	require.Contains(t, out, "export TETHER_PID='4242'")
}

func TestCLIEnv_IntegrationDisabled(t *testing.T) {
	d := setupTestDeps(t, nil)
	initSession(t, d)

	out, err := run(t, d, "init", "--export-env")
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = run(t, d, "env")
	require.Error(t, err)
	require.Contains(t, err.Error(), "shell_integration")
}

func TestCLIDisconnectAndRecover(t *testing.T) {
	d := setupTestDeps(t, nil)
	s := initSession(t, d)

	mustRun(t, d, nil, "enable-recovery")
	mustRun(t, d, nil, "disconnect")

	var sum recovery.StatusSummary
	mustRun(t, d, &sum, "status", "--session", s.ID)
	require.Equal(t, model.SessionDisconnected, sum.Status)
	require.NotNil(t, sum.Recovery)
	require.True(t, sum.Recovery.Enabled)

	var out struct {
		Recovered bool           `json:"recovered"`
		Session   *model.Session `json:"session"`
	}
	mustRun(t, d, &out, "recover")
	require.True(t, out.Recovered)
	require.Equal(t, s.ID, out.Session.ID)
	require.Equal(t, model.SessionActive, out.Session.Status)
	require.Equal(t, 1, out.Session.RecoveryCount)

	mustRun(t, d, &out, "recover", "--id", s.ID)
	require.Equal(t, 2, out.Session.RecoveryCount)
	require.NotNil(t, out.Session.RecoverySource)
	require.Equal(t, model.SourceID, *out.Session.RecoverySource)

	_, err := run(t, d, "recover", "--id", "01NOPE")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[NOT_FOUND]")
}

func TestCLIRecover_NothingToRecover(t *testing.T) {
	d := setupTestDeps(t, nil)
	s := initSession(t, d)
	mustRun(t, d, nil, "disconnect", "--session", s.ID)

	// Disconnected without opting into recovery.
	_, err := run(t, d, "recover")
	require.Error(t, err)
	require.Contains(t, err.Error(), "recoverable session not found")
}

func TestCLIWindowLifecycle(t *testing.T) {
	d := setupTestDeps(t, nil)
	initSession(t, d)

	var w model.TimeWindow
	mustRun(t, d, &w, "window", "create", "--start", "-120m", "--end", "-60m", "--type", "work", "--name", "focus")
	require.Equal(t, "focus", w.Name)
	require.Equal(t, model.WindowWork, w.Type)
	require.True(t, w.StartTime.Equal(t0.Add(-120*time.Minute)))
	original := w.ID

	var at model.TimeWindow
	mustRun(t, d, &at, "window", "at", "--at", "-90m")
	require.Equal(t, original, at.ID)

	var split windowsOutput
	mustRun(t, d, &split, "window", "split", "--at", "-90m", original)
	require.Equal(t, 2, split.Count)

	var list windowsOutput
	mustRun(t, d, &list, "window", "list")
	require.Equal(t, 2, list.Count)
	mustRun(t, d, &list, "window", "list", "--include-merged")
	require.Equal(t, 3, list.Count)
	mustRun(t, d, &list, "window", "list", "--type", "meeting")
	require.Equal(t, 0, list.Count)

	var merged model.TimeWindow
	mustRun(t, d, &merged, "window", "merge", "--name", "joined", split.Windows[0].ID, split.Windows[1].ID)
	require.Equal(t, "joined", merged.Name)
	require.True(t, merged.StartTime.Equal(t0.Add(-120*time.Minute)))
	require.True(t, merged.EndTime.Equal(t0.Add(-60*time.Minute)))

	var canonical windowsOutput
	mustRun(t, d, &canonical, "window", "canonical", original)
	require.Equal(t, 1, canonical.Count)
	require.Equal(t, merged.ID, canonical.Windows[0].ID)

	var closed model.TimeWindow
	mustRun(t, d, &closed, "window", "close", merged.ID)
	require.Equal(t, model.WindowClosed, closed.Status)

	_, err := run(t, d, "window", "at", "--at", "-10m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[NOT_FOUND]")
}

func TestCLIWindowEnsure(t *testing.T) {
	d := setupTestDeps(t, nil)
	initSession(t, d)

	var first, second model.TimeWindow
	mustRun(t, d, &first, "window", "ensure", "--at", "-30m", "--duration", "1h", "--name", "catch-all")
	require.Equal(t, "catch-all", first.Name)

	mustRun(t, d, &second, "window", "ensure", "--at", "-30m")
	require.Equal(t, first.ID, second.ID)
}

func TestCLIActivity(t *testing.T) {
	d := setupTestDeps(t, nil)
	s := initSession(t, d)

	var ev model.ActivityEvent
	mustRun(t, d, &ev, "activity", "task", "T-1")
	require.Equal(t, model.ActivityTask, ev.Kind)
	require.Equal(t, "T-1", ev.Ref)
	mustRun(t, d, nil, "activity", "file", "internal/window/store.go")

	var events struct {
		Events []model.ActivityEvent `json:"events"`
		Count  int                   `json:"count"`
	}
	mustRun(t, d, &events, "activity", "list")
	require.Equal(t, 2, events.Count)

	mustRun(t, d, &events, "activity", "history", "T-1")
	require.Equal(t, 1, events.Count)
	require.Equal(t, s.ID, events.Events[0].SessionID)

	var sum recovery.StatusSummary
	mustRun(t, d, &sum, "status")
	require.Equal(t, 1, sum.TaskCount)
	require.Equal(t, 1, sum.FileCount)
	require.NotNil(t, sum.CurrentTaskID)
	require.Equal(t, "T-1", *sum.CurrentTaskID)

	var detected windowsOutput
	mustRun(t, d, &detected, "window", "detect")
	require.Equal(t, len(detected.Windows), detected.Count)

	_, err := run(t, d, "activity", "task")
	require.Error(t, err)
}

func TestCLIStats(t *testing.T) {
	d := setupTestDeps(t, nil)
	initSession(t, d)

	mustRun(t, d, nil, "window", "create", "--start", "-300m", "--end", "-280m", "--type", "work")
	mustRun(t, d, nil, "window", "create", "--start", "-240m", "--end", "-150m", "--type", "meeting")

	var st struct {
		TotalWindows    int   `json:"total_windows"`
		TotalDurationMs int64 `json:"total_duration_ms"`
		DurationBuckets struct {
			Short    int `json:"short"`
			Medium   int `json:"medium"`
			Long     int `json:"long"`
			VeryLong int `json:"very_long"`
		} `json:"duration_buckets"`
	}
	mustRun(t, d, &st, "stats")
	require.Equal(t, 2, st.TotalWindows)
	require.Equal(t, (110 * time.Minute).Milliseconds(), st.TotalDurationMs)
	require.Equal(t, 1, st.DurationBuckets.Short)
	require.Equal(t, 1, st.DurationBuckets.Medium)

	mustRun(t, d, &st, "stats", "--type", "meeting")
	require.Equal(t, 1, st.TotalWindows)

	mustRun(t, d, &st, "stats", "--min", "1h")
	require.Equal(t, 1, st.TotalWindows)

	_, err := run(t, d, "stats", "--from", "last tuesday")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLIReport(t *testing.T) {
	d := setupTestDeps(t, nil)
	s := initSession(t, d)
	mustRun(t, d, nil, "window", "create", "--start", "-45m", "--end", "now", "--name", "review")

	out, err := run(t, d, "report")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "# Session "+s.ID), out)
	require.Contains(t, out, "review")

	out, err = run(t, d, "report", "--html")
	require.NoError(t, err)
	require.Contains(t, out, "<table>")
}

func TestCLIExport(t *testing.T) {
	d := setupTestDeps(t, nil)
	s := initSession(t, d)
	mustRun(t, d, nil, "window", "create", "--start", "-45m", "--end", "-15m")

	var out export.Output
	mustRun(t, d, &out, "export")
	require.Equal(t, 1, out.Windows)
	require.True(t, strings.HasPrefix(out.Path, d.baseDir), out.Path)
	require.Contains(t, out.Path, s.ID)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"_tether_export":true`)

	_, err = run(t, d, "export", "--path", "/etc/tether.jsonl")
	require.Error(t, err)
}

func TestCLIErrorHandling(t *testing.T) {
	d := setupTestDeps(t, nil)
	initSession(t, d)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "create missing end", args: []string{"window", "create", "--start", "-1h"}, want: "end"},
		{name: "create bad time", args: []string{"window", "create", "--start", "soon", "--end", "now"}, want: "[INVALID_REQUEST]"},
		{name: "create inverted", args: []string{"window", "create", "--start", "now", "--end", "-1h"}, want: "[VALIDATION_ERROR]"},
		{name: "create bad type", args: []string{"window", "create", "--start", "-1h", "--end", "now", "--type", "nap"}, want: "[VALIDATION_ERROR]"},
		{name: "split without id", args: []string{"window", "split", "--at", "now"}, want: "window id is required"},
		{name: "split unknown window", args: []string{"window", "split", "--at", "now", "01NOPE"}, want: "[NOT_FOUND]"},
		{name: "split negative gap", args: []string{"window", "split", "--at", "now", "--gap", "-1m", "01NOPE"}, want: "non-negative"},
		{name: "merge unknown windows", args: []string{"window", "merge", "01NOPE", "01NADA"}, want: "["},
		{name: "close without id", args: []string{"window", "close"}, want: "window id is required"},
		{name: "stats negative duration", args: []string{"stats", "--max", "-1m"}, want: "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, d, tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
