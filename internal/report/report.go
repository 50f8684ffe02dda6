// Package report renders a session timeline as markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/stats"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown renders the session header, its window timeline and st.
// Merged windows are listed with a pointer to what replaced them.
func Markdown(s *model.Session, windows []*model.TimeWindow, st *stats.Stats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", s.ID)
	fmt.Fprintf(&b, "- **Status:** %s\n", s.Status)
	if s.TTY != "" {
		fmt.Fprintf(&b, "- **TTY:** `%s`\n", s.TTY)
	}
	if s.User != "" {
		fmt.Fprintf(&b, "- **User:** %s\n", s.User)
	}
	fmt.Fprintf(&b, "- **Started:** %s\n", formatTime(s.StartTime))
	fmt.Fprintf(&b, "- **Last active:** %s\n", formatTime(s.LastActive))
	fmt.Fprintf(&b, "- **Connections:** %d\n", s.ConnectionCount)
	if s.RecoveryCount > 0 || s.RecoveryEnabled {
		fmt.Fprintf(&b, "- **Recoveries:** %d (enabled: %t)\n", s.RecoveryCount, s.RecoveryEnabled)
	}
	if s.CurrentTaskID != nil {
		fmt.Fprintf(&b, "- **Current task:** `%s`\n", *s.CurrentTaskID)
	}

	b.WriteString("\n## Windows\n\n")
	if len(windows) == 0 {
		b.WriteString("_No windows._\n")
	} else {
		b.WriteString("| Start | End | Duration | Type | Status | Name |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, w := range windows {
			status := string(w.Status)
			if next := model.SuccessorIDs(w.Successor); len(next) > 0 {
				status += " → " + strings.Join(next, ", ")
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				formatTime(w.StartTime), formatTime(w.EndTime), FormatDuration(w.Duration()),
				w.Type, cell(status), cell(w.Name))
		}
	}

	if st != nil {
		b.WriteString("\n## Statistics\n\n")
		fmt.Fprintf(&b, "- **Windows:** %d\n", st.TotalWindows)
		fmt.Fprintf(&b, "- **Total duration:** %s\n", FormatDuration(st.TotalDuration))
		fmt.Fprintf(&b, "- **Average duration:** %s\n", FormatDuration(st.AverageDuration))
		fmt.Fprintf(&b, "- **Tasks:** %d\n", st.TotalTasks)
		fmt.Fprintf(&b, "- **Files:** %d\n", st.TotalFiles)

		if len(st.ByType) > 0 {
			b.WriteString("\n| Type | Windows |\n|---|---|\n")
			types := make([]string, 0, len(st.ByType))
			for t := range st.ByType {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Fprintf(&b, "| %s | %d |\n", t, st.ByType[model.WindowType(t)])
			}
		}

		b.WriteString("\n| Length | Windows |\n|---|---|\n")
		fmt.Fprintf(&b, "| < 30m | %d |\n", st.Buckets.Short)
		fmt.Fprintf(&b, "| 30m to 2h | %d |\n", st.Buckets.Medium)
		fmt.Fprintf(&b, "| 2h to 4h | %d |\n", st.Buckets.Long)
		fmt.Fprintf(&b, "| ≥ 4h | %d |\n", st.Buckets.VeryLong)
	}

	return b.String()
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML converts markdown into a standalone HTML page.
func HTML(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(body.String())})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return out.String(), nil
}

// FormatDuration renders d as "1h05m", "12m" or "40s".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
