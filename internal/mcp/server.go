package mcp

import (
	"database/sql"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/classmate/internal/config"
	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/session"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"timetable_upload": {
		def:     uploadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpload },
	},
	"timetable_import": {
		def:     importToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport },
	},
	"timetable_show": {
		def:     showToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShow },
	},
	"timetable_tomorrow": {
		def:     tomorrowToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTomorrow },
	},
	"timetable_ask": {
		def:     askToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAsk },
	},
	"reminder_set": {
		def:     reminderSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReminderSet },
	},
	"reminder_inbox": {
		def:     inboxToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInbox },
	},
	"data_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
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

// Deps are the components the tools operate on.
type Deps struct {
	Sessions  *session.Manager
	Reminders *reminder.Scheduler
	Answerer  session.Answerer
	// DB backs reminder_inbox; nil disables the outbox.
	DB     *sql.DB
	Logger *slog.Logger
}

// NewServer creates an MCP server with the classmate tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(d Deps, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"classmate",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
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

// Run serves the tools over stdio until stdin closes.
func Run(d Deps, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(d, cfg, version))
}
