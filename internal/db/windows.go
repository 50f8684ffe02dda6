package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

const windowColumns = `
	id, session_id, start_time, end_time, name, type, status,
	origin_json, successor_json, boundaries_json, created_at, updated_at`

// WindowFilter narrows ListWindows. Zero values mean "no constraint".
type WindowFilter struct {
	SessionID     string
	Types         []model.WindowType
	Statuses      []model.WindowStatus
	ExcludeMerged bool

	// From/To select windows that intersect [From, To].
	From *time.Time
	To   *time.Time

	Limit int
}

// InsertWindow stores a new time window.
func InsertWindow(ctx context.Context, db *sql.DB, w *model.TimeWindow) error {
	origin, successor, boundaries, err := encodeWindowJSON(w)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO time_windows (` + windowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.ExecContext(ctx, query,
		w.ID, w.SessionID, toMillis(w.StartTime), toMillis(w.EndTime),
		nullIfEmpty(w.Name), string(w.Type), string(w.Status),
		origin, successor, boundaries,
		toMillis(w.CreatedAt), toMillis(w.UpdatedAt),
	)
	if err != nil {
		return errors.NewPersistence("insert window", err)
	}
	return nil
}

// GetWindow retrieves a window by id, merged windows included.
func GetWindow(ctx context.Context, db *sql.DB, id string) (*model.TimeWindow, error) {
	row := db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM time_windows WHERE id = ?`, id)
	w, err := scanWindow(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("window", id)
	}
	if err != nil {
		return nil, errors.NewPersistence("get window", err)
	}
	return w, nil
}

// SupersedeWindow marks a window merged and records what replaced it.
func SupersedeWindow(ctx context.Context, db *sql.DB, id string, successor model.Provenance, at time.Time) error {
	data, err := encodeProvenance(successor)
	if err != nil {
		return errors.NewInternal(err)
	}
	query := `
		UPDATE time_windows
		SET status = ?, successor_json = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query, string(model.WindowMerged), data, toMillis(at), id)
	if err != nil {
		return errors.NewPersistence("supersede window", err)
	}
	return requireRow(result, "window", id, "supersede window")
}

// SetWindowStatus changes the status of a window that is currently in one
// of the from statuses. Reports whether a row changed.
func SetWindowStatus(ctx context.Context, db *sql.DB, id string, to model.WindowStatus, at time.Time, from ...model.WindowStatus) (bool, error) {
	query := `UPDATE time_windows SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(to), toMillis(at), id}
	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, s := range from {
			args = append(args, string(s))
		}
	}
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.NewPersistence("set window status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewPersistence("set window status", err)
	}
	return n > 0, nil
}

// ListWindows returns windows matching f ordered by start time, then id.
func ListWindows(ctx context.Context, db *sql.DB, f WindowFilter) ([]*model.TimeWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM time_windows WHERE 1 = 1`
	var args []any

	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if len(f.Types) > 0 {
		query += ` AND type IN (` + placeholders(len(f.Types)) + `)`
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.ExcludeMerged {
		query += ` AND status <> ?`
		args = append(args, string(model.WindowMerged))
	}
	if f.From != nil {
		query += ` AND end_time >= ?`
		args = append(args, toMillis(*f.From))
	}
	if f.To != nil {
		query += ` AND start_time <= ?`
		args = append(args, toMillis(*f.To))
	}

	query += ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return queryWindows(ctx, db, "list windows", query, args...)
}

// FindWindowsContaining returns non-merged windows of the session with
// start < t < end, latest end first.
func FindWindowsContaining(ctx context.Context, db *sql.DB, sessionID string, t time.Time) ([]*model.TimeWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM time_windows
		WHERE session_id = ? AND status <> ? AND start_time < ? AND end_time > ?
		ORDER BY end_time DESC, id DESC`
	ms := toMillis(t)
	return queryWindows(ctx, db, "find windows at time", query,
		sessionID, string(model.WindowMerged), ms, ms)
}

// FindWindowsOverlapping returns non-merged windows of the session that
// intersect [start, end]. Touching endpoints count as intersecting.
func FindWindowsOverlapping(ctx context.Context, db *sql.DB, sessionID string, start, end time.Time) ([]*model.TimeWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM time_windows
		WHERE session_id = ? AND status <> ? AND start_time <= ? AND end_time >= ?
		ORDER BY start_time ASC, id ASC`
	return queryWindows(ctx, db, "find overlapping windows", query,
		sessionID, string(model.WindowMerged), toMillis(end), toMillis(start))
}

func queryWindows(ctx context.Context, db *sql.DB, op, query string, args ...any) ([]*model.TimeWindow, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistence(op, err)
	}
	defer rows.Close()

	var out []*model.TimeWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, errors.NewPersistence(op, err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(op, err)
	}
	return out, nil
}

func scanWindow(row rowScanner) (*model.TimeWindow, error) {
	var (
		w                             model.TimeWindow
		name                          sql.NullString
		typ, status                   string
		start, end, created, updated  int64
		origin, successor, boundaries sql.NullString
	)

	err := row.Scan(
		&w.ID, &w.SessionID, &start, &end, &name, &typ, &status,
		&origin, &successor, &boundaries, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	w.StartTime = fromMillis(start)
	w.EndTime = fromMillis(end)
	w.Name = name.String
	w.Type = model.WindowType(typ)
	w.Status = model.WindowStatus(status)
	w.CreatedAt = fromMillis(created)
	w.UpdatedAt = fromMillis(updated)

	if w.Origin, err = decodeProvenance(origin); err != nil {
		return nil, err
	}
	if w.Successor, err = decodeProvenance(successor); err != nil {
		return nil, err
	}
	if boundaries.Valid && boundaries.String != "" {
		var ms []int64
		if err := json.Unmarshal([]byte(boundaries.String), &ms); err != nil {
			return nil, err
		}
		w.Boundaries = make([]time.Time, len(ms))
		for i, v := range ms {
			w.Boundaries[i] = fromMillis(v)
		}
	}

	return &w, nil
}

func encodeWindowJSON(w *model.TimeWindow) (origin, successor, boundaries sql.NullString, err error) {
	if origin, err = encodeProvenance(w.Origin); err != nil {
		return
	}
	if successor, err = encodeProvenance(w.Successor); err != nil {
		return
	}
	if len(w.Boundaries) > 0 {
		ms := make([]int64, len(w.Boundaries))
		for i, b := range w.Boundaries {
			ms[i] = toMillis(b)
		}
		var data []byte
		if data, err = json.Marshal(ms); err != nil {
			return
		}
		boundaries = sql.NullString{String: string(data), Valid: true}
	}
	return
}

func encodeProvenance(p model.Provenance) (sql.NullString, error) {
	env := model.EncodeProvenance(p)
	if env == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeProvenance(ns sql.NullString) (model.Provenance, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var env model.ProvenanceJSON
	if err := json.Unmarshal([]byte(ns.String), &env); err != nil {
		return nil, err
	}
	return model.DecodeProvenance(&env)
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
