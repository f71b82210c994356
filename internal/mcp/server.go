package mcp

import (
	"sieve/internal/capsule"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var (
	searchToolDef = mcp.NewTool("search_capsules",
		mcp.WithDescription("Search knowledge capsules by keyword. Returns matching capsules with their content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query (matches title, tags and content)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default: 10)"), mcp.DefaultNumber(DefaultSearchLimit)),
	)
	pinnedToolDef = mcp.NewTool("get_pinned",
		mcp.WithDescription("Get all pinned capsules. These represent the highest-priority knowledge."),
	)
	capsuleToolDef = mcp.NewTool("get_capsule",
		mcp.WithDescription("Get a specific capsule by its ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The capsule ID")),
	)
	indexToolDef = mcp.NewTool("get_index",
		mcp.WithDescription("Get the INDEX.md listing of all capsules organized by category."),
	)
	categoriesToolDef = mcp.NewTool("get_categories",
		mcp.WithDescription("Get the list of knowledge categories with capsule counts."),
	)
)

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"search_capsules": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"get_pinned": {
		def:     pinnedToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePinned },
	},
	"get_capsule": {
		def:     capsuleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetCapsule },
	},
	"get_index": {
		def:     indexToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIndex },
	},
	"get_categories": {
		def:     categoriesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategories },
	},
}

// AllToolNames returns a list of all tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates an MCP server with the read-only capsule tools registered.
func NewServer(layout capsule.Layout, indexPath, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"sieve",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(layout, indexPath)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the MCP tools over stdio until the client disconnects.
func Run(layout capsule.Layout, indexPath, version string) error {
	return server.ServeStdio(NewServer(layout, indexPath, version))
}
