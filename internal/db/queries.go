package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

const sessionColumns = `
	id, tty, pid, ppid, user_name, shell, term,
	start_time, last_active, status, connection_count, recovery_count,
	last_recovery, recovery_source, recovery_enabled, current_task_id,
	metadata_json, created_at, updated_at`

// InsertSession stores a new session row.
func InsertSession(ctx context.Context, db *sql.DB, s *model.Session) error {
	metadata, err := marshalMetadata(s.Metadata)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.ExecContext(ctx, query,
		s.ID, s.TTY, s.PID, s.PPID, s.User, s.Shell, s.Term,
		toMillis(s.StartTime), toMillis(s.LastActive), string(s.Status),
		s.ConnectionCount, s.RecoveryCount,
		toNullMillis(s.LastRecovery), toNullSource(s.RecoverySource), s.RecoveryEnabled,
		toNullString(s.CurrentTaskID), metadata,
		toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
	)
	if err != nil {
		return errors.NewPersistence("insert session", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func GetSession(ctx context.Context, db *sql.DB, id string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, errors.NewPersistence("get session", err)
	}
	return s, nil
}

// UpdateSession rewrites every mutable column of s. The id, start time and
// created_at never change.
func UpdateSession(ctx context.Context, db *sql.DB, s *model.Session) error {
	metadata, err := marshalMetadata(s.Metadata)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		UPDATE sessions
		SET tty = ?, pid = ?, ppid = ?, user_name = ?, shell = ?, term = ?,
			last_active = ?, status = ?, connection_count = ?, recovery_count = ?,
			last_recovery = ?, recovery_source = ?, recovery_enabled = ?,
			current_task_id = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query,
		s.TTY, s.PID, s.PPID, s.User, s.Shell, s.Term,
		toMillis(s.LastActive), string(s.Status), s.ConnectionCount, s.RecoveryCount,
		toNullMillis(s.LastRecovery), toNullSource(s.RecoverySource), s.RecoveryEnabled,
		toNullString(s.CurrentTaskID), metadata, toMillis(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		return errors.NewPersistence("update session", err)
	}
	return requireRow(result, "session", s.ID, "update session")
}

// TouchSession bumps last_active and reactivates an inactive session.
// Disconnected sessions are left alone; the returned bool reports whether a
// live session was touched.
func TouchSession(ctx context.Context, db *sql.DB, id string, at time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET last_active = MAX(last_active, ?), status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`
	ms := toMillis(at)
	result, err := db.ExecContext(ctx, query,
		ms, string(model.SessionActive), ms,
		id, string(model.SessionActive), string(model.SessionInactive),
	)
	if err != nil {
		return false, errors.NewPersistence("touch session", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewPersistence("touch session", err)
	}
	return n > 0, nil
}

// MarkInactive moves an active session to inactive if it has been idle
// since cutoff. Reports whether the transition happened.
func MarkInactive(ctx context.Context, db *sql.DB, id string, cutoff, now time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND last_active <= ?
	`
	result, err := db.ExecContext(ctx, query,
		string(model.SessionInactive), toMillis(now),
		id, string(model.SessionActive), toMillis(cutoff),
	)
	if err != nil {
		return false, errors.NewPersistence("mark session inactive", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewPersistence("mark session inactive", err)
	}
	return n > 0, nil
}

// FindSessionsByTTY returns sessions on tty in the given statuses, most
// recently active first.
func FindSessionsByTTY(ctx context.Context, db *sql.DB, tty string, statuses ...model.SessionStatus) ([]*model.Session, error) {
	where, args := statusClause(statuses)
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tty = ?` + where +
		` ORDER BY last_active DESC, id DESC`
	return querySessions(ctx, db, "find sessions by tty", query, append([]any{tty}, args...)...)
}

// FindSessionsByPID returns sessions with the exact (pid, ppid) pair in the
// given statuses, most recently active first.
func FindSessionsByPID(ctx context.Context, db *sql.DB, pid, ppid int, statuses ...model.SessionStatus) ([]*model.Session, error) {
	where, args := statusClause(statuses)
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE pid = ? AND ppid = ?` + where +
		` ORDER BY last_active DESC, id DESC`
	return querySessions(ctx, db, "find sessions by pid", query, append([]any{pid, ppid}, args...)...)
}

// ListSessions returns sessions in the given statuses (all when empty),
// most recently active first. limit <= 0 means no limit.
func ListSessions(ctx context.Context, db *sql.DB, limit int, statuses ...model.SessionStatus) ([]*model.Session, error) {
	where, args := statusClause(statuses)
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1 = 1` + where +
		` ORDER BY last_active DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return querySessions(ctx, db, "list sessions", query, args...)
}

func querySessions(ctx context.Context, db *sql.DB, op, query string, args ...any) ([]*model.Session, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistence(op, err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.NewPersistence(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(op, err)
	}
	return out, nil
}

// statusClause builds " AND status IN (...)" for a non-empty status list.
func statusClause(statuses []model.SessionStatus) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return " AND status IN (" + placeholders(len(statuses)) + ")", args
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s                         model.Session
		status                    string
		startTime, lastActive     int64
		createdAt, updatedAt      int64
		lastRecovery              sql.NullInt64
		recoverySource, currentID sql.NullString
		metadata                  sql.NullString
	)

	err := row.Scan(
		&s.ID, &s.TTY, &s.PID, &s.PPID, &s.User, &s.Shell, &s.Term,
		&startTime, &lastActive, &status, &s.ConnectionCount, &s.RecoveryCount,
		&lastRecovery, &recoverySource, &s.RecoveryEnabled, &currentID,
		&metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = model.SessionStatus(status)
	s.StartTime = fromMillis(startTime)
	s.LastActive = fromMillis(lastActive)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	s.LastRecovery = fromNullMillis(lastRecovery)
	s.CurrentTaskID = fromNullString(currentID)
	if recoverySource.Valid {
		src := model.RecoverySource(recoverySource.String)
		s.RecoverySource = &src
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &s.Metadata); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

func requireRow(result sql.Result, kind, id, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewPersistence(op, err)
	}
	if n == 0 {
		return errors.NewNotFound(kind, id)
	}
	return nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// toMillis converts t to unix milliseconds; the zero time maps to 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis converts unix milliseconds back to a UTC time; 0 maps to the zero time.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func toNullSource(s *model.RecoverySource) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
