package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Times are RFC3339 strings throughout.

var sessionStatusToolDef = mcp.NewTool("session_status",
	mcp.WithDescription("Summarize a terminal session: status, current task, activity counts, duration and recovery state."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
)

var sessionRecoverToolDef = mcp.NewTool("session_recover",
	mcp.WithDescription("Re-associate the server's terminal with its persisted session. With session_id, resume that session explicitly. Never creates a session."),
	mcp.WithString("session_id", mcp.Description("Resume this session instead of matching the fingerprint")),
)

var sessionEnableRecoveryToolDef = mcp.NewTool("session_enable_recovery",
	mcp.WithDescription("Allow a session to be recovered after it disconnects."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
)

var sessionDisconnectToolDef = mcp.NewTool("session_disconnect",
	mcp.WithDescription("Mark a session disconnected and stop its inactivity monitor."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
)

var windowListToolDef = mcp.NewTool("window_list",
	mcp.WithDescription("List a session's time windows ordered by start. Merged windows are hidden unless include_merged is set."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
	mcp.WithArray("types", mcp.Description("Only these window types"), mcp.Items(map[string]any{"type": "string"})),
	mcp.WithString("from", mcp.Description("Only windows intersecting [from, to]")),
	mcp.WithString("to", mcp.Description("Only windows intersecting [from, to]")),
	mcp.WithBoolean("include_merged", mcp.Description("Include superseded windows")),
	mcp.WithNumber("limit", mcp.Description("Maximum windows to return")),
)

var windowCreateToolDef = mcp.NewTool("window_create",
	mcp.WithDescription("Create a time window over [start, end). Windows above the maximum duration are bisected; overlaps are reported, not rejected."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
	mcp.WithString("start", mcp.Required(), mcp.Description("Window start")),
	mcp.WithString("end", mcp.Required(), mcp.Description("Window end")),
	mcp.WithString("name", mcp.Description("Display name")),
	mcp.WithString("type", mcp.Description("Window type"), mcp.Enum("work", "break", "meeting", "auto", "manual", "recovery")),
)

var windowFindToolDef = mcp.NewTool("window_find",
	mcp.WithDescription("Find the window active at a time, or every window overlapping [start, end]."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
	mcp.WithString("at", mcp.Description("Point in time (exclusive of window bounds)")),
	mcp.WithString("start", mcp.Description("Range start, used with end")),
	mcp.WithString("end", mcp.Description("Range end, used with start")),
)

var windowSplitToolDef = mcp.NewTool("window_split",
	mcp.WithDescription("Split an active window at a point strictly inside it, optionally leaving a gap."),
	mcp.WithString("window_id", mcp.Required(), mcp.Description("Window ULID")),
	mcp.WithString("at", mcp.Required(), mcp.Description("Split point")),
	mcp.WithBoolean("create_gap", mcp.Description("Leave an unclaimed gap around the split point")),
	mcp.WithNumber("gap_seconds", mcp.Description("Gap length when create_gap is set")),
)

var windowMergeToolDef = mcp.NewTool("window_merge",
	mcp.WithDescription("Merge two or more windows of one session into a single window spanning all of them."),
	mcp.WithArray("window_ids", mcp.Required(), mcp.Description("Windows to merge"), mcp.Items(map[string]any{"type": "string"})),
	mcp.WithString("name", mcp.Description("Name of the merged window")),
	mcp.WithString("type", mcp.Description("Type of the merged window"), mcp.Enum("work", "break", "meeting", "auto", "manual", "recovery")),
	mcp.WithBoolean("preserve_boundaries", mcp.Description("Keep every input start/end on the merged window")),
)

var windowDetectToolDef = mcp.NewTool("window_detect",
	mcp.WithDescription("Derive auto windows from the session's recorded task and file activity."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ULID")),
	mcp.WithBoolean("merge_adjacent", mcp.Description("Merge detected windows separated by less than the auto-merge threshold")),
)

var windowStatsToolDef = mcp.NewTool("window_stats",
	mcp.WithDescription("Aggregate window durations, types and activity counts."),
	mcp.WithString("session_id", mcp.Description("Only this session")),
	mcp.WithArray("types", mcp.Description("Only these window types"), mcp.Items(map[string]any{"type": "string"})),
	mcp.WithString("from", mcp.Description("Only windows intersecting [from, to]")),
	mcp.WithString("to", mcp.Description("Only windows intersecting [from, to]")),
	mcp.WithNumber("min_duration_sec", mcp.Description("Minimum window length")),
	mcp.WithNumber("max_duration_sec", mcp.Description("Maximum window length")),
	mcp.WithString("task_id", mcp.Description("Only windows during which this task was used")),
)
