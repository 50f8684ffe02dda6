package export

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func TestValidatePath_TraversalRejected(t *testing.T) {
	base := t.TempDir()
	cfg := config.DefaultConfig()

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../backup.jsonl"},
		{"mid-path traversal", filepath.Join(base, "exports") + "/../../etc/x.jsonl"},
		{"forward slashes", "a/../../b.jsonl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, filepath.Join(base, "exports"), cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_Rules(t *testing.T) {
	base := t.TempDir()
	exports := filepath.Join(base, "exports")
	if err := os.MkdirAll(filepath.Join(exports, "nested"), 0700); err != nil {
		t.Fatal(err)
	}
	extra := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{extra, "relative/ignored"}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"exports dir", filepath.Join(exports, "a.jsonl"), false},
		{"allowed path", filepath.Join(extra, "a.jsonl"), false},
		{"wrong extension", filepath.Join(exports, "a.json"), true},
		{"subdirectory", filepath.Join(exports, "nested", "a.jsonl"), true},
		{"outside", filepath.Join(base, "a.jsonl"), true},
		{"empty", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, exports, cfg)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	unsafe := config.DefaultConfig()
	unsafe.AllowUnsafePaths = true
	if err := ValidatePath(filepath.Join(base, "a.jsonl"), exports, unsafe); err != nil {
		t.Errorf("unsafe paths should skip directory checks: %v", err)
	}
}

func TestValidatePath_SymlinkRejected(t *testing.T) {
	base := t.TempDir()
	exports := filepath.Join(base, "exports")
	if err := os.MkdirAll(exports, 0700); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(base, "target.jsonl")
	if err := os.WriteFile(target, nil, 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(exports, "link.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	if err := ValidatePath(link, exports, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for symlink, got: %v", err)
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := map[string]string{
		"01J0ABC":      "01J0ABC",
		"../../etc":    "etc",
		"a/b\\c":       "a-b-c",
		"with\x00null": "withnull",
		"///":          "unnamed",
	}
	for in, want := range tests {
		if got := SanitizeForFilename(in); got != want {
			t.Errorf("SanitizeForFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func seed(t *testing.T) (string, *sql.DB, string) {
	t.Helper()
	base := t.TempDir()
	database, err := db.Init(base)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	ctx := context.Background()

	s := &model.Session{
		ID: "01J0SESSION", TTY: "/dev/pts/1", StartTime: t0, LastActive: t0,
		Status: model.SessionActive, ConnectionCount: 1, CreatedAt: t0, UpdatedAt: t0,
	}
	if err := db.InsertSession(ctx, database, s); err != nil {
		t.Fatal(err)
	}
	windows := []*model.TimeWindow{
		{ID: "01W1", SessionID: s.ID, StartTime: t0, EndTime: t0.Add(time.Hour), Type: model.WindowAuto, Status: model.WindowMerged, Successor: model.MergedInto{Parent: "01W2"}, CreatedAt: t0, UpdatedAt: t0},
		{ID: "01W2", SessionID: s.ID, StartTime: t0, EndTime: t0.Add(2 * time.Hour), Type: model.WindowAuto, Status: model.WindowActive, Origin: model.MergedFrom{Parents: []string{"01W1"}}, CreatedAt: t0, UpdatedAt: t0},
	}
	for _, w := range windows {
		if err := db.InsertWindow(ctx, database, w); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.InsertActivity(ctx, database, model.ActivityEvent{SessionID: s.ID, Kind: model.ActivityTask, Ref: "task-1", Timestamp: t0}); err != nil {
		t.Fatal(err)
	}
	return base, database, s.ID
}

func TestSession_WritesTimeline(t *testing.T) {
	base, database, id := seed(t)

	out, err := Session(context.Background(), database, config.DefaultConfig(), Input{SessionID: id, BaseDir: base, Now: t0})
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}

	wantPath := filepath.Join(base, "exports", "01J0SESSION-2026-06-01T090000.jsonl")
	if out.Path != wantPath {
		t.Errorf("path = %q, want %q", out.Path, wantPath)
	}
	if out.Windows != 2 || out.Activity != 1 {
		t.Errorf("counts = %d windows, %d activity", out.Windows, out.Activity)
	}

	f, err := os.Open(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatal(err)
	}
	if !header.TetherExport || header.SchemaVersion != SchemaVersion || header.SessionID != id {
		t.Errorf("unexpected header: %+v", header)
	}

	var rec Record
	if err := json.Unmarshal([]byte(lines[2]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Kind != KindWindow || rec.Window == nil || rec.Window.Status != model.WindowMerged {
		t.Errorf("expected merged window record, got %s", lines[2])
	}
	if _, ok := rec.Window.Successor.(model.MergedInto); !ok {
		t.Errorf("successor not preserved: %s", lines[2])
	}
	if !strings.Contains(lines[4], `"kind":"activity"`) {
		t.Errorf("expected activity record, got %s", lines[4])
	}

	entries, _ := os.ReadDir(filepath.Join(base, "exports"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSession_Errors(t *testing.T) {
	base, database, id := seed(t)
	ctx := context.Background()

	_, err := Session(ctx, database, config.DefaultConfig(), Input{SessionID: "missing", BaseDir: base})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	_, err = Session(ctx, database, config.DefaultConfig(), Input{SessionID: id, BaseDir: base, Path: filepath.Join(base, "elsewhere.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}
