// Package window stores and transforms the time windows that partition a
// session's timeline.
package window

import (
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/model"
)

// splitEdgeMargin is how far a gapped split boundary must stay inside the
// original window.
const splitEdgeMargin = time.Second

// Interval is a half-open span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether window a touches or intersects [s, e]: a starts
// or ends inside [s, e], or a covers it. Shared endpoints count as overlap.
func Overlaps(a Interval, s, e time.Time) bool {
	return !a.Start.After(e) && !a.End.Before(s)
}

// SplitOptions controls Split.
type SplitOptions struct {
	// CreateGap leaves an unclaimed gap of GapDuration centred on the split point.
	CreateGap   bool
	GapDuration time.Duration
}

// splitBounds computes the two child intervals of splitting w at at.
func splitBounds(w Interval, at time.Time, opts SplitOptions) (Interval, Interval, error) {
	if !w.Start.Before(at) || !at.Before(w.End) {
		return Interval{}, Interval{}, errors.NewValidationf(
			"split point %s is outside window (%s, %s)",
			at.Format(time.RFC3339), w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}

	leftEnd, rightStart := at, at
	if opts.CreateGap && opts.GapDuration > 0 {
		half := opts.GapDuration / 2
		leftEnd = at.Add(-half)
		rightStart = at.Add(half)

		if lo := w.Start.Add(splitEdgeMargin); leftEnd.Before(lo) {
			leftEnd = lo
		}
		if leftEnd.After(at) {
			leftEnd = at
		}
		if hi := w.End.Add(-splitEdgeMargin); rightStart.After(hi) {
			rightStart = hi
		}
		if rightStart.Before(at) {
			rightStart = at
		}
	}

	return Interval{Start: w.Start, End: leftEnd}, Interval{Start: rightStart, End: w.End}, nil
}

// piece is one leaf of a bisected window.
type piece struct {
	Interval
	Name string
}

// bisect halves iv until every piece is at most limit long, returning the
// leaves in chronological order. Each level of halving suffixes the name
// with " (part 1)" or " (part 2)".
func bisect(iv Interval, name string, limit time.Duration) []piece {
	if limit <= 0 || iv.Duration() <= limit {
		return []piece{{Interval: iv, Name: name}}
	}
	mid := model.Normalize(iv.Start.Add(iv.Duration() / 2))
	if !mid.After(iv.Start) || !mid.Before(iv.End) {
		return []piece{{Interval: iv, Name: name}}
	}
	left := bisect(Interval{Start: iv.Start, End: mid}, strings.TrimSpace(name+" (part 1)"), limit)
	right := bisect(Interval{Start: mid, End: iv.End}, strings.TrimSpace(name+" (part 2)"), limit)
	return append(left, right...)
}

// sortWindows orders windows by start, then id, in place.
func sortWindows(ws []*model.TimeWindow) {
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].StartTime.Equal(ws[j].StartTime) {
			return ws[i].StartTime.Before(ws[j].StartTime)
		}
		return ws[i].ID < ws[j].ID
	})
}

// span returns [min(start), max(end)] over ws. ws must be non-empty.
func span(ws []*model.TimeWindow) Interval {
	out := Interval{Start: ws[0].StartTime, End: ws[0].EndTime}
	for _, w := range ws[1:] {
		if w.StartTime.Before(out.Start) {
			out.Start = w.StartTime
		}
		if w.EndTime.After(out.End) {
			out.End = w.EndTime
		}
	}
	return out
}

// boundaries returns the sorted, de-duplicated starts and ends of ws plus
// any boundaries they already preserve.
func boundaries(ws []*model.TimeWindow) []time.Time {
	seen := make(map[int64]time.Time)
	add := func(t time.Time) { seen[t.UnixMilli()] = t }
	for _, w := range ws {
		add(w.StartTime)
		add(w.EndTime)
		for _, b := range w.Boundaries {
			add(b)
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// mergedType picks the result type of a merge: the explicit type, else the
// type all inputs share, else manual.
func mergedType(explicit model.WindowType, ws []*model.TimeWindow) model.WindowType {
	if explicit != "" {
		return explicit
	}
	common := ws[0].Type
	for _, w := range ws[1:] {
		if w.Type != common {
			return model.WindowManual
		}
	}
	return common
}

func intervalOf(w *model.TimeWindow) Interval {
	return Interval{Start: w.StartTime, End: w.EndTime}
}
