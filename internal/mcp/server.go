package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"recording_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"recording_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"recording_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"settings_get": {
		def:     settingsGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsGet },
	},
	"settings_update": {
		def:     settingsUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsUpdate },
	},
	"training_status": {
		def:     trainingStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrainingStatus },
	},
	"device_status": {
		def:     deviceStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDeviceStatus },
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

// NewServer creates an MCP server with the echocap tools registered, minus
// those listed in cfg.DisabledTools.
func NewServer(store *db.Store, cfg *config.Config, enc crypt.Provider, logger *zap.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"echocap",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(store, cfg, enc, logger)

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

// Run serves the MCP tools over stdio until stdin closes.
func Run(store *db.Store, cfg *config.Config, enc crypt.Provider, logger *zap.Logger, version string) error {
	s := NewServer(store, cfg, enc, logger, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
