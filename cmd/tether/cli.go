package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/export"
	"github.com/hpungsan/tether/internal/metrics"
	"github.com/hpungsan/tether/internal/model"
	"github.com/hpungsan/tether/internal/recovery"
	"github.com/hpungsan/tether/internal/report"
	"github.com/hpungsan/tether/internal/stats"
	"github.com/hpungsan/tether/internal/web"
	"github.com/hpungsan/tether/internal/window"
)

// appDeps is what the commands run against. It is nil for commands that
// never touch the store (help, version, shell-init).
type appDeps struct {
	db      *sql.DB
	engine  *recovery.Engine
	metrics *metrics.Metrics
	log     *zap.Logger
	baseDir string
}

func (d *appDeps) now() time.Time { return d.engine.Sessions().Clock().Now() }

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d *appDeps) *cli.App {
	app := &cli.App{
		Name:    "tether",
		Usage:   "Terminal session identity and time-window recovery",
		Version: Version,
		Commands: []*cli.Command{
			initCmd(d),
			statusCmd(d),
			recoverCmd(d),
			enableRecoveryCmd(d),
			disconnectCmd(d),
			sessionsCmd(d),
			fingerprintCmd(d),
			envCmd(d),
			shellInitCmd(),
			windowCmd(d),
			activityCmd(d),
			statsCmd(d),
			reportCmd(d),
			exportCmd(d),
			serveCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "session",
		Aliases: []string{"s"},
		EnvVars: []string{recovery.EnvSessionID},
		Usage:   "Session ID (default: $TETHER_SESSION_ID, then the session of this terminal)",
	}
}

// resolveSession picks the session a command acts on: --session, then
// TETHER_SESSION_ID, then the live session matching this terminal.
func resolveSession(c *cli.Context, d *appDeps) (string, error) {
	if id := strings.TrimSpace(c.String("session")); id != "" {
		return id, nil
	}
	if match := d.engine.Sessions().Matcher().Find(c.Context, d.engine.Fingerprint()); match != nil {
		return match.Session.ID, nil
	}
	return "", errors.NewInvalidRequest("no session for this terminal; run 'tether init' or pass --session")
}

// initCmd creates the init command.
func initCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Attach this terminal to its session, creating one if needed",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "export-env", Usage: "Print shell export statements instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			s, err := d.engine.Initialize(c.Context, d.engine.Fingerprint())
			if err != nil {
				return outputError(err)
			}
			if c.Bool("export-env") {
				fmt.Fprint(os.Stdout, recovery.ExportLines(d.engine.ShellEnv(s)))
				return nil
			}
			return outputJSON(s)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status summary of a session",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			sum := d.engine.Status(c.Context, id)
			if sum == nil {
				return outputError(errors.NewNotFound("session", id))
			}
			return outputJSON(sum)
		},
	}
}

// recoverCmd creates the recover command.
func recoverCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Resume the session of this terminal, or a session by ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Session ID to resume explicitly"},
			&cli.BoolFlag{Name: "export-env", Usage: "Print shell export statements instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			fp := d.engine.Fingerprint()

			var s *model.Session
			if id := c.String("id"); id != "" {
				if s = d.engine.RecoverByID(c.Context, id, &fp); s == nil {
					return outputError(errors.NewNotFound("session", id))
				}
			} else if s = d.engine.RecoverSession(c.Context, &fp); s == nil {
				return outputError(errors.NewNotFound("recoverable session", describeTerminal(fp.TTY)))
			}

			if c.Bool("export-env") {
				fmt.Fprint(os.Stdout, recovery.ExportLines(d.engine.ShellEnv(s)))
				return nil
			}
			return outputJSON(map[string]any{"recovered": true, "session": s})
		},
	}
}

func describeTerminal(tty string) string {
	if tty == "" {
		return "this terminal"
	}
	return tty
}

// enableRecoveryCmd creates the enable-recovery command.
func enableRecoveryCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "enable-recovery",
		Usage: "Allow a session to be recovered after it disconnects",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			if !d.engine.EnableSessionRecovery(c.Context, id) {
				return outputError(errors.NewNotFound("session", id))
			}
			return outputJSON(map[string]any{"session_id": id, "recovery_enabled": true})
		},
	}
}

// disconnectCmd creates the disconnect command.
func disconnectCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Mark a session as disconnected",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			if !d.engine.Disconnect(c.Context, id) {
				return outputError(errors.NewNotFound("session", id))
			}
			return outputJSON(map[string]any{"session_id": id, "status": model.SessionDisconnected})
		},
	}
}

// sessionsCmd creates the sessions command.
func sessionsCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List sessions, most recently active first",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "status", Usage: "Filter by status: active|inactive|disconnected (repeatable)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum number of sessions"},
		},
		Action: func(c *cli.Context) error {
			var statuses []model.SessionStatus
			for _, s := range splitList(c.StringSlice("status")) {
				statuses = append(statuses, model.SessionStatus(s))
			}
			sessions, err := d.engine.Sessions().List(c.Context, c.Int("limit"), statuses...)
			if err != nil {
				return outputError(err)
			}
			if sessions == nil {
				sessions = []*model.Session{}
			}
			return outputJSON(map[string]any{"sessions": sessions, "count": len(sessions)})
		},
	}
}

// fingerprintCmd creates the fingerprint command.
func fingerprintCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "Print the identity signals of this terminal",
		Action: func(c *cli.Context) error {
			return outputJSON(d.engine.Fingerprint())
		},
	}
}

// envCmd creates the env command.
func envCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Print the shell exports of a session",
		Flags: []cli.Flag{sessionFlag()},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			s := d.engine.Sessions().Get(c.Context, id)
			if s == nil {
				return outputError(errors.NewNotFound("session", id))
			}
			env := d.engine.ShellEnv(s)
			if len(env) == 0 {
				return outputError(errors.NewInvalidRequest("shell integration is disabled; set shell_integration in config"))
			}
			fmt.Fprint(os.Stdout, recovery.ExportLines(env))
			return nil
		},
	}
}

// shellInitCmd creates the shell-init command.
func shellInitCmd() *cli.Command {
	return &cli.Command{
		Name:      "shell-init",
		Usage:     "Print the shell integration script",
		ArgsUsage: "<bash|zsh>",
		Action: func(c *cli.Context) error {
			script, err := recovery.ShellInit(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			fmt.Fprint(os.Stdout, script)
			return nil
		},
	}
}

// windowCmd creates the window command and its subcommands.
func windowCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "window",
		Usage: "Create, query and transform time windows",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a window over [start, end]",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.StringFlag{Name: "start", Required: true, Usage: "Start time (RFC3339 or offset like -90m)"},
					&cli.StringFlag{Name: "end", Required: true, Usage: "End time (RFC3339 or offset like -5m)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Window name"},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(model.WindowManual), Usage: "work|break|meeting|auto|manual|recovery"},
				},
				Action: func(c *cli.Context) error {
					id, err := resolveSession(c, d)
					if err != nil {
						return outputError(err)
					}
					start, err := parseTime(c.String("start"), d.now())
					if err != nil {
						return outputError(err)
					}
					end, err := parseTime(c.String("end"), d.now())
					if err != nil {
						return outputError(err)
					}
					w, err := d.engine.Windows().Create(c.Context, id, start, end, window.CreateOptions{
						Name: c.String("name"),
						Type: model.WindowType(c.String("type")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(w)
				},
			},
			{
				Name:  "list",
				Usage: "List windows of a session in start order",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.StringSliceFlag{Name: "type", Aliases: []string{"t"}, Usage: "Filter by type (repeatable)"},
					&cli.StringSliceFlag{Name: "status", Usage: "Filter by status: active|closed|merged (repeatable)"},
					&cli.StringFlag{Name: "from", Usage: "Only windows intersecting from this time"},
					&cli.StringFlag{Name: "to", Usage: "Only windows intersecting up to this time"},
					&cli.BoolFlag{Name: "include-merged", Usage: "Include windows superseded by a split or merge"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum number of windows"},
				},
				Action: func(c *cli.Context) error {
					id, err := resolveSession(c, d)
					if err != nil {
						return outputError(err)
					}
					from, err := optionalTime(c, "from", d.now())
					if err != nil {
						return outputError(err)
					}
					to, err := optionalTime(c, "to", d.now())
					if err != nil {
						return outputError(err)
					}
					f := window.ListFilter{
						SessionID:     id,
						Types:         windowTypes(c.StringSlice("type")),
						ExcludeMerged: !c.Bool("include-merged"),
						From:          from,
						To:            to,
						Limit:         c.Int("limit"),
					}
					for _, s := range splitList(c.StringSlice("status")) {
						f.Statuses = append(f.Statuses, model.WindowStatus(s))
					}
					ws, err := d.engine.Windows().List(c.Context, f)
					if err != nil {
						return outputError(err)
					}
					return outputWindows(ws)
				},
			},
			{
				Name:  "at",
				Usage: "Show the window covering a point in time",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.StringFlag{Name: "at", Usage: "Time to look up (default now)"},
				},
				Action: func(c *cli.Context) error {
					id, err := resolveSession(c, d)
					if err != nil {
						return outputError(err)
					}
					at := d.now()
					if s := c.String("at"); s != "" {
						if at, err = parseTime(s, d.now()); err != nil {
							return outputError(err)
						}
					}
					w := d.engine.Windows().FindAtTime(c.Context, id, at)
					if w == nil {
						return outputError(errors.NewNotFound("window", "at "+at.UTC().Format(time.RFC3339)))
					}
					return outputJSON(w)
				},
			},
			{
				Name:  "ensure",
				Usage: "Return the window covering a time, creating one if none does",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.StringFlag{Name: "at", Usage: "Time to cover (default now)"},
					&cli.DurationFlag{Name: "duration", Usage: "Length of a newly created window (default: min_window_duration)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Name of a newly created window"},
				},
				Action: func(c *cli.Context) error {
					id, err := resolveSession(c, d)
					if err != nil {
						return outputError(err)
					}
					at := d.now()
					if s := c.String("at"); s != "" {
						if at, err = parseTime(s, d.now()); err != nil {
							return outputError(err)
						}
					}
					w, err := d.engine.Windows().GetOrCreateForTimestamp(c.Context, id, at, window.GetOrCreateOptions{
						WindowDuration: c.Duration("duration"),
						Name:           c.String("name"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(w)
				},
			},
			{
				Name:      "split",
				Usage:     "Split a window in two at a point in time",
				ArgsUsage: "<window-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Required: true, Usage: "Split point (RFC3339 or offset)"},
					&cli.DurationFlag{Name: "gap", Usage: "Leave an unclaimed gap of this length around the split point"},
				},
				Action: func(c *cli.Context) error {
					wid := c.Args().First()
					if wid == "" {
						return outputError(errors.NewInvalidRequest("window id is required"))
					}
					at, err := parseTime(c.String("at"), d.now())
					if err != nil {
						return outputError(err)
					}
					gap := c.Duration("gap")
					if gap < 0 {
						return outputError(errors.NewInvalidRequest("--gap must be non-negative"))
					}
					ws, err := d.engine.Windows().Split(c.Context, wid, at, window.SplitOptions{
						CreateGap:   gap > 0,
						GapDuration: gap,
					})
					if err != nil {
						return outputError(err)
					}
					return outputWindows(ws)
				},
			},
			{
				Name:      "merge",
				Usage:     "Merge windows into one spanning them all",
				ArgsUsage: "<window-id> <window-id>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Name of the merged window"},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Type of the merged window (default: shared input type, else manual)"},
					&cli.BoolFlag{Name: "preserve-boundaries", Usage: "Keep every input start and end on the merged window"},
				},
				Action: func(c *cli.Context) error {
					w, err := d.engine.Windows().Merge(c.Context, c.Args().Slice(), window.MergeOptions{
						Name:               c.String("name"),
						Type:               model.WindowType(c.String("type")),
						PreserveBoundaries: c.Bool("preserve-boundaries"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(w)
				},
			},
			{
				Name:      "close",
				Usage:     "Close an active window",
				ArgsUsage: "<window-id>",
				Action: func(c *cli.Context) error {
					wid := c.Args().First()
					if wid == "" {
						return outputError(errors.NewInvalidRequest("window id is required"))
					}
					w, err := d.engine.Windows().Close(c.Context, wid)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(w)
				},
			},
			{
				Name:      "canonical",
				Usage:     "Resolve a window to the live windows that replaced it",
				ArgsUsage: "<window-id>",
				Action: func(c *cli.Context) error {
					wid := c.Args().First()
					if wid == "" {
						return outputError(errors.NewInvalidRequest("window id is required"))
					}
					ws, err := d.engine.Windows().Canonical(c.Context, wid)
					if err != nil {
						return outputError(err)
					}
					return outputWindows(ws)
				},
			},
			{
				Name:  "detect",
				Usage: "Derive auto windows from recorded activity",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.BoolFlag{Name: "merge-adjacent", Usage: "Merge detected windows separated by small gaps"},
				},
				Action: func(c *cli.Context) error {
					id, err := resolveSession(c, d)
					if err != nil {
						return outputError(err)
					}
					ws, err := d.engine.DetectWindows(c.Context, id, c.Bool("merge-adjacent"))
					if err != nil {
						return outputError(err)
					}
					return outputWindows(ws)
				},
			},
		},
	}
}

// activityCmd creates the activity command and its subcommands.
func activityCmd(d *appDeps) *cli.Command {
	record := func(kind model.ActivityKind) cli.ActionFunc {
		return func(c *cli.Context) error {
			ref := strings.TrimSpace(c.Args().First())
			if ref == "" {
				return outputError(errors.NewInvalidRequest(string(kind) + " reference is required"))
			}
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			var ev model.ActivityEvent
			if kind == model.ActivityTask {
				ev, err = d.engine.Activity().RecordTask(c.Context, id, ref)
			} else {
				ev, err = d.engine.Activity().RecordFile(c.Context, id, ref)
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(ev)
		}
	}

	return &cli.Command{
		Name:  "activity",
		Usage: "Record and inspect task and file activity",
		Subcommands: []*cli.Command{
			{
				Name:      "task",
				Usage:     "Record use of a task and make it the current task",
				ArgsUsage: "<task-id>",
				Flags:     []cli.Flag{sessionFlag()},
				Action:    record(model.ActivityTask),
			},
			{
				Name:      "file",
				Usage:     "Record a file touch",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{sessionFlag()},
				Action:    record(model.ActivityFile),
			},
			{
				Name:  "list",
				Usage: "List the activity stream of a session",
				Flags: []cli.Flag{sessionFlag()},
				Action: func(c *cli.Context) error {
					id, err := resolveSession(c, d)
					if err != nil {
						return outputError(err)
					}
					events, err := d.engine.Activity().Events(c.Context, id)
					if err != nil {
						return outputError(err)
					}
					return outputEvents(events)
				},
			},
			{
				Name:      "history",
				Usage:     "List every recorded use of a task across sessions",
				ArgsUsage: "<task-id>",
				Action: func(c *cli.Context) error {
					taskID := c.Args().First()
					if taskID == "" {
						return outputError(errors.NewInvalidRequest("task id is required"))
					}
					events, err := d.engine.Activity().TaskHistory(c.Context, taskID)
					if err != nil {
						return outputError(err)
					}
					return outputEvents(events)
				},
			},
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize the windows of a session",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringSliceFlag{Name: "type", Aliases: []string{"t"}, Usage: "Filter by type (repeatable)"},
			&cli.StringFlag{Name: "from", Usage: "Only windows intersecting from this time"},
			&cli.StringFlag{Name: "to", Usage: "Only windows intersecting up to this time"},
			&cli.DurationFlag{Name: "min", Usage: "Minimum window duration"},
			&cli.DurationFlag{Name: "max", Usage: "Maximum window duration"},
			&cli.StringFlag{Name: "task", Usage: "Only windows during which this task was used"},
		},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			from, err := optionalTime(c, "from", d.now())
			if err != nil {
				return outputError(err)
			}
			to, err := optionalTime(c, "to", d.now())
			if err != nil {
				return outputError(err)
			}
			if c.Duration("min") < 0 || c.Duration("max") < 0 {
				return outputError(errors.NewInvalidRequest("durations must be non-negative"))
			}
			st, err := d.engine.Stats().Compute(c.Context, stats.Filter{
				SessionID:   id,
				Types:       windowTypes(c.StringSlice("type")),
				From:        from,
				To:          to,
				MinDuration: c.Duration("min"),
				MaxDuration: c.Duration("max"),
				TaskID:      c.String("task"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(st)
		},
	}
}

// reportCmd creates the report command.
func reportCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Render the session timeline as markdown",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.BoolFlag{Name: "html", Usage: "Render HTML instead of markdown"},
		},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			s := d.engine.Sessions().Get(c.Context, id)
			if s == nil {
				return outputError(errors.NewNotFound("session", id))
			}
			ws, err := d.engine.Windows().List(c.Context, window.ListFilter{SessionID: id})
			if err != nil {
				return outputError(err)
			}
			st, err := d.engine.Stats().Compute(c.Context, stats.Filter{SessionID: id})
			if err != nil {
				return outputError(err)
			}

			out := report.Markdown(s, ws, st)
			if c.Bool("html") {
				if out, err = report.HTML("Session "+s.ID, out); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			fmt.Fprint(os.Stdout, out)
			return nil
		},
	}
}

// exportCmd creates the export command.
func exportCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a session with its windows and activity to JSONL",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file (default: ~/.tether/exports/<session>-<time>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			id, err := resolveSession(c, d)
			if err != nil {
				return outputError(err)
			}
			out, err := export.Session(c.Context, d.db, d.engine.Config(), export.Input{
				SessionID: id,
				Path:      c.String("path"),
				BaseDir:   d.baseDir,
				Now:       d.now(),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(d *appDeps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the read-only HTTP status API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(d.engine, d.metrics, d.log, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv, d.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// outputJSON outputs value as formatted JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputWindows(ws []*model.TimeWindow) error {
	if ws == nil {
		ws = []*model.TimeWindow{}
	}
	return outputJSON(map[string]any{"windows": ws, "count": len(ws)})
}

func outputEvents(events []model.ActivityEvent) error {
	if events == nil {
		events = []model.ActivityEvent{}
	}
	return outputJSON(map[string]any{"events": events, "count": len(events)})
}

// outputError formats error for CLI.
func outputError(err error) error {
	if tErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", tErr.Code, tErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseTime accepts RFC3339, "now", or a signed offset from now ("-90m", "+1h").
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return time.Time{}, errors.NewInvalidRequest("time is required")
	case s == "now":
		return now, nil
	case s[0] == '-' || s[0] == '+':
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, errors.NewInvalidRequest(fmt.Sprintf("invalid time offset %q", s))
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest(fmt.Sprintf("invalid time %q: want RFC3339 or an offset like -90m", s))
	}
	return t, nil
}

// optionalTime parses the named flag, returning nil when it is unset.
func optionalTime(c *cli.Context, name string, now time.Time) (*time.Time, error) {
	s := c.String(name)
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s, now)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// splitList flattens repeated and comma-separated flag values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func windowTypes(values []string) []model.WindowType {
	var out []model.WindowType
	for _, t := range splitList(values) {
		out = append(out, model.WindowType(t))
	}
	return out
}
