package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/tether/internal/recovery"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"session", "window"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"session_status": {
		def:     sessionStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionStatus },
	},
	"session_recover": {
		def:     sessionRecoverToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionRecover },
	},
	"session_enable_recovery": {
		def:     sessionEnableRecoveryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionEnableRecovery },
	},
	"session_disconnect": {
		def:     sessionDisconnectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionDisconnect },
	},
	"window_list": {
		def:     windowListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowList },
	},
	"window_create": {
		def:     windowCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowCreate },
	},
	"window_find": {
		def:     windowFindToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowFind },
	},
	"window_split": {
		def:     windowSplitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowSplit },
	},
	"window_merge": {
		def:     windowMergeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowMerge },
	},
	"window_detect": {
		def:     windowDetectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowDetect },
	},
	"window_stats": {
		def:     windowStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindowStats },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name
// ("window_split" → "window").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server exposing the engine's session and window
// operations. Tools listed in disabled_tools or belonging to disabled_types
// are not registered.
func NewServer(engine *recovery.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tether",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(engine)
	cfg := engine.Config()

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the engine over the stdio transport until stdin closes.
func Run(engine *recovery.Engine, version string) error {
	return server.ServeStdio(NewServer(engine, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
