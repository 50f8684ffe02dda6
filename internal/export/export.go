// Package export writes a session's timeline to a JSONL file.
package export

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

// SchemaVersion is written into every export header.
const SchemaVersion = "1.0"

// Record kinds following the header line.
const (
	KindSession  = "session"
	KindWindow   = "window"
	KindActivity = "activity"
)

// Input contains parameters for Session.
type Input struct {
	SessionID string
	// Path defaults to <BaseDir>/exports/<session>-<timestamp>.jsonl.
	Path string
	// BaseDir is the tether home (~/.tether); its exports directory is always allowed.
	BaseDir string
	// Now stamps the export; zero means time.Now().
	Now time.Time
}

// Output is the result of Session.
type Output struct {
	Path       string `json:"path"`
	Windows    int    `json:"windows"`
	Activity   int    `json:"activity"`
	ExportedAt int64  `json:"exported_at"`
}

// Header is the first line of an export file.
type Header struct {
	TetherExport  bool   `json:"_tether_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	SessionID     string `json:"session_id"`
}

// Record is every line after the header. Exactly one payload field is set.
type Record struct {
	Kind     string               `json:"kind"`
	Session  *model.Session       `json:"session,omitempty"`
	Window   *model.TimeWindow    `json:"window,omitempty"`
	Activity *model.ActivityEvent `json:"activity,omitempty"`
}

// Session exports the session, all of its windows (merged history
// included) and its activity stream. The file is written to a temp name and
// renamed into place, so an existing export survives a failed run.
func Session(ctx context.Context, database *sql.DB, cfg *config.Config, in Input) (*Output, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	exportsDir := filepath.Join(in.BaseDir, "exports")

	s, err := db.GetSession(ctx, database, in.SessionID)
	if err != nil {
		return nil, err
	}

	path := in.Path
	if path == "" {
		name := fmt.Sprintf("%s-%s%s", SanitizeForFilename(s.ID), now.UTC().Format("2006-01-02T150405"), Extension)
		path = filepath.Join(exportsDir, name)
	}
	if err := ValidatePath(path, exportsDir, cfg); err != nil {
		return nil, err
	}

	windows, err := db.ListWindows(ctx, database, db.WindowFilter{SessionID: s.ID})
	if err != nil {
		return nil, err
	}
	events, err := db.ListActivity(ctx, database, s.ID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	write := func(v any) error {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled("export")
		}
		if err := enc.Encode(v); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	}

	if err := write(Header{TetherExport: true, SchemaVersion: SchemaVersion, ExportedAt: now.UnixMilli(), SessionID: s.ID}); err != nil {
		return nil, err
	}
	if err := write(Record{Kind: KindSession, Session: s}); err != nil {
		return nil, err
	}
	for _, win := range windows {
		if err := write(Record{Kind: KindWindow, Window: win}); err != nil {
			return nil, err
		}
	}
	for i := range events {
		if err := write(Record{Kind: KindActivity, Activity: &events[i]}); err != nil {
			return nil, err
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted after validation.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &Output{
		Path:       path,
		Windows:    len(windows),
		Activity:   len(events),
		ExportedAt: now.UnixMilli(),
	}, nil
}
