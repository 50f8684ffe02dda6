package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/stats"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func fixture() (*model.Session, []*model.TimeWindow, *stats.Stats) {
	task := "task-7"
	s := &model.Session{
		ID:              "01J0SESSION",
		TTY:             "/dev/pts/3",
		User:            "dev",
		StartTime:       t0,
		LastActive:      t0.Add(3 * time.Hour),
		Status:          model.SessionActive,
		ConnectionCount: 2,
		CurrentTaskID:   &task,
	}
	windows := []*model.TimeWindow{
		{ID: "w1", StartTime: t0, EndTime: t0.Add(45 * time.Minute), Type: model.WindowWork, Status: model.WindowMerged, Name: "a|b", Successor: model.MergedInto{Parent: "w3"}},
		{ID: "w2", StartTime: t0.Add(time.Hour), EndTime: t0.Add(3 * time.Hour), Type: model.WindowAuto, Status: model.WindowActive},
	}
	return s, windows, stats.Summarize(windows[1:], nil)
}

func TestMarkdown(t *testing.T) {
	s, windows, st := fixture()
	out := Markdown(s, windows, st)

	require.Contains(t, out, "# Session 01J0SESSION")
	require.Contains(t, out, "- **TTY:** `/dev/pts/3`")
	require.Contains(t, out, "- **Current task:** `task-7`")
	require.Contains(t, out, "| 2026-06-01 09:00 | 2026-06-01 09:45 | 45m | work | merged → w3 | a\\|b |")
	require.Contains(t, out, "| 2026-06-01 10:00 | 2026-06-01 12:00 | 2h00m | auto | active |  |")
	require.Contains(t, out, "- **Total duration:** 2h00m")
	require.Contains(t, out, "| auto | 1 |")
	require.Contains(t, out, "| 2h to 4h | 1 |")
	require.NotContains(t, out, "Recoveries")
}

func TestMarkdown_NoWindows(t *testing.T) {
	s, _, _ := fixture()
	out := Markdown(s, nil, nil)
	require.Contains(t, out, "_No windows._")
	require.NotContains(t, out, "## Statistics")
}

func TestHTML(t *testing.T) {
	s, windows, st := fixture()
	out, err := HTML("Session <1>", Markdown(s, windows, st))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	require.Contains(t, out, "<title>Session &lt;1&gt;</title>")
	require.Contains(t, out, "<h1>Session 01J0SESSION</h1>")
	require.Contains(t, out, "<table>")
	require.Contains(t, out, "<code>/dev/pts/3</code>")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{40 * time.Second, "40s"},
		{12 * time.Minute, "12m"},
		{65 * time.Minute, "1h05m"},
		{26*time.Hour + 30*time.Second, "26h00m"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FormatDuration(tt.d))
	}
}
