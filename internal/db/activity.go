package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

// InsertActivity appends a task-use or file-touch record.
func InsertActivity(ctx context.Context, db *sql.DB, e model.ActivityEvent) error {
	var query string
	switch e.Kind {
	case model.ActivityTask:
		query = `INSERT INTO session_tasks (session_id, task_id, timestamp) VALUES (?, ?, ?)`
	case model.ActivityFile:
		query = `INSERT INTO session_files (session_id, file_path, timestamp) VALUES (?, ?, ?)`
	default:
		return errors.NewInvalidRequest("unknown activity kind: " + string(e.Kind))
	}

	if _, err := db.ExecContext(ctx, query, e.SessionID, e.Ref, toMillis(e.Timestamp)); err != nil {
		return errors.NewPersistence("insert "+string(e.Kind)+" activity", err)
	}
	return nil
}

// ListActivity returns both activity streams of a session merged in
// timestamp order.
func ListActivity(ctx context.Context, db *sql.DB, sessionID string) ([]model.ActivityEvent, error) {
	query := `
		SELECT kind, ref, timestamp FROM (
			SELECT 'task' AS kind, task_id AS ref, timestamp, id FROM session_tasks WHERE session_id = ?
			UNION ALL
			SELECT 'file' AS kind, file_path AS ref, timestamp, id FROM session_files WHERE session_id = ?
		)
		ORDER BY timestamp ASC, kind DESC, id ASC
	`
	rows, err := db.QueryContext(ctx, query, sessionID, sessionID)
	if err != nil {
		return nil, errors.NewPersistence("list activity", err)
	}
	defer rows.Close()

	var out []model.ActivityEvent
	for rows.Next() {
		var (
			kind string
			e    model.ActivityEvent
			ts   int64
		)
		if err := rows.Scan(&kind, &e.Ref, &ts); err != nil {
			return nil, errors.NewPersistence("list activity", err)
		}
		e.SessionID = sessionID
		e.Kind = model.ActivityKind(kind)
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence("list activity", err)
	}
	return out, nil
}

// CountActivity returns distinct task and file counts for a session within
// [from, to). A zero from or to leaves that side unbounded.
func CountActivity(ctx context.Context, db *sql.DB, sessionID string, from, to time.Time) (model.ActivityCounts, error) {
	var counts model.ActivityCounts

	rangeClause, args := timeRange(from, to)
	taskQuery := `SELECT COUNT(DISTINCT task_id) FROM session_tasks WHERE session_id = ?` + rangeClause
	if err := db.QueryRowContext(ctx, taskQuery, append([]any{sessionID}, args...)...).Scan(&counts.Tasks); err != nil {
		return counts, errors.NewPersistence("count task activity", err)
	}

	fileQuery := `SELECT COUNT(DISTINCT file_path) FROM session_files WHERE session_id = ?` + rangeClause
	if err := db.QueryRowContext(ctx, fileQuery, append([]any{sessionID}, args...)...).Scan(&counts.Files); err != nil {
		return counts, errors.NewPersistence("count file activity", err)
	}

	return counts, nil
}

// TaskActivity returns every use of taskID across sessions, oldest first.
func TaskActivity(ctx context.Context, db *sql.DB, taskID string) ([]model.ActivityEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, timestamp FROM session_tasks WHERE task_id = ? ORDER BY timestamp ASC, id ASC`,
		taskID)
	if err != nil {
		return nil, errors.NewPersistence("list task activity", err)
	}
	defer rows.Close()

	var out []model.ActivityEvent
	for rows.Next() {
		e := model.ActivityEvent{Kind: model.ActivityTask, Ref: taskID}
		var ts int64
		if err := rows.Scan(&e.SessionID, &ts); err != nil {
			return nil, errors.NewPersistence("list task activity", err)
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence("list task activity", err)
	}
	return out, nil
}

func timeRange(from, to time.Time) (string, []any) {
	var clause string
	var args []any
	if !from.IsZero() {
		clause += ` AND timestamp >= ?`
		args = append(args, toMillis(from))
	}
	if !to.IsZero() {
		clause += ` AND timestamp < ?`
		args = append(args, toMillis(to))
	}
	return clause, args
}
