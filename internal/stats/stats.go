// Package stats aggregates duration, type and activity distributions over
// a set of time windows.
package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/model"
)

// Bucket limits.
const (
	ShortLimit  = 30 * time.Minute
	MediumLimit = 2 * time.Hour
	LongLimit   = 4 * time.Hour
)

// Filter selects the windows to aggregate. Zero fields do not filter.
type Filter struct {
	SessionID string
	Types     []model.WindowType
	// Statuses defaults to every status except merged.
	Statuses    []model.WindowStatus
	From        *time.Time
	To          *time.Time
	MinDuration time.Duration
	MaxDuration time.Duration
	// TaskID keeps windows during which the task was used.
	TaskID string
}

// Buckets counts windows by length.
type Buckets struct {
	Short    int `json:"short"`
	Medium   int `json:"medium"`
	Long     int `json:"long"`
	VeryLong int `json:"very_long"`
}

// Stats is the aggregate over a window set.
type Stats struct {
	TotalWindows    int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	TotalTasks      int
	TotalFiles      int
	ByType          map[model.WindowType]int
	Buckets         Buckets
}

type statsJSON struct {
	TotalWindows      int                      `json:"total_windows"`
	TotalDurationMs   int64                    `json:"total_duration_ms"`
	AverageDurationMs int64                    `json:"average_duration_ms"`
	TotalTasks        int                      `json:"total_tasks"`
	TotalFiles        int                      `json:"total_files"`
	ByType            map[model.WindowType]int `json:"by_type"`
	Buckets           Buckets                  `json:"duration_buckets"`
}

// MarshalJSON renders durations as milliseconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		TotalWindows:      s.TotalWindows,
		TotalDurationMs:   s.TotalDuration.Milliseconds(),
		AverageDurationMs: s.AverageDuration.Milliseconds(),
		TotalTasks:        s.TotalTasks,
		TotalFiles:        s.TotalFiles,
		ByType:            s.ByType,
		Buckets:           s.Buckets,
	})
}

// Summarize aggregates windows. counts maps window id to the distinct
// activity recorded inside it; missing entries count as zero.
func Summarize(windows []*model.TimeWindow, counts map[string]model.ActivityCounts) *Stats {
	st := &Stats{ByType: make(map[model.WindowType]int)}
	for _, w := range windows {
		d := w.Duration()
		st.TotalWindows++
		st.TotalDuration += d
		st.ByType[w.Type]++

		c := counts[w.ID]
		st.TotalTasks += c.Tasks
		st.TotalFiles += c.Files

		switch {
		case d < ShortLimit:
			st.Buckets.Short++
		case d < MediumLimit:
			st.Buckets.Medium++
		case d < LongLimit:
			st.Buckets.Long++
		default:
			st.Buckets.VeryLong++
		}
	}
	if st.TotalWindows > 0 {
		st.AverageDuration = st.TotalDuration / time.Duration(st.TotalWindows)
	}
	return st
}

// Aggregator computes Stats from the store.
type Aggregator struct {
	db  *sql.DB
	log *zap.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(database *sql.DB, log *zap.Logger) *Aggregator {
	return &Aggregator{db: database, log: logging.OrNop(log).Named("stats")}
}

// Compute selects windows by f and aggregates them. Activity counts are
// recomputed from the activity tables on every call.
func (a *Aggregator) Compute(ctx context.Context, f Filter) (*Stats, error) {
	windows, err := db.ListWindows(ctx, a.db, db.WindowFilter{
		SessionID:     f.SessionID,
		Types:         f.Types,
		Statuses:      f.Statuses,
		ExcludeMerged: len(f.Statuses) == 0,
		From:          f.From,
		To:            f.To,
	})
	if err != nil {
		return nil, err
	}

	var uses []model.ActivityEvent
	if f.TaskID != "" {
		if uses, err = db.TaskActivity(ctx, a.db, f.TaskID); err != nil {
			return nil, err
		}
	}

	kept := windows[:0]
	for _, w := range windows {
		d := w.Duration()
		if f.MinDuration > 0 && d < f.MinDuration {
			continue
		}
		if f.MaxDuration > 0 && d > f.MaxDuration {
			continue
		}
		if f.TaskID != "" && !usedDuring(uses, w) {
			continue
		}
		kept = append(kept, w)
	}

	counts := make(map[string]model.ActivityCounts, len(kept))
	for _, w := range kept {
		c, err := db.CountActivity(ctx, a.db, w.SessionID, w.StartTime, w.EndTime)
		if err != nil {
			return nil, err
		}
		counts[w.ID] = c
	}

	st := Summarize(kept, counts)
	a.log.Debug("stats computed",
		zap.String("session_id", f.SessionID),
		zap.Int("windows", st.TotalWindows),
	)
	return st, nil
}

func usedDuring(uses []model.ActivityEvent, w *model.TimeWindow) bool {
	for _, u := range uses {
		if u.SessionID == w.SessionID && !u.Timestamp.Before(w.StartTime) && u.Timestamp.Before(w.EndTime) {
			return true
		}
	}
	return false
}
