// Package mcp serves the memory store as Model Context Protocol tools over
// stdio.
package mcp

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	ctxpkg "github.com/memvra/memory-agent/internal/context"
	"github.com/memvra/memory-agent/internal/extract"
	"github.com/memvra/memory-agent/internal/memory"
)

// Server holds the tool handlers and the MCP server they are registered on.
type Server struct {
	store    *memory.Store
	pipeline *extract.Pipeline
	recall   *ctxpkg.Builder
	counter  ctxpkg.Counter
	mcp      *server.MCPServer
	logger   *log.Logger

	chunkSize int
	overlap   int
}

// Option configures a Server.
type Option func(*Server)

// WithPipeline enables the memory_ingest tool.
func WithPipeline(p *extract.Pipeline, chunkSize, overlap int) Option {
	return func(s *Server) {
		s.pipeline = p
		s.chunkSize = chunkSize
		s.overlap = overlap
	}
}

// WithTokenCounter sets the counter used by memory_recall.
func WithTokenCounter(c ctxpkg.Counter) Option {
	return func(s *Server) { s.counter = c }
}

// WithLogger sets the logger. It must not write to stdout.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the MCP server and registers every tool.
func New(store *memory.Store, version string, opts ...Option) *Server {
	s := &Server{store: store, logger: log.New(io.Discard), counter: ctxpkg.ApproxTokenizer{}}
	for _, o := range opts {
		o(s)
	}
	s.recall = ctxpkg.NewBuilder(store, ctxpkg.NewFormatter(), s.counter)
	s.mcp = server.NewMCPServer("memory-agent", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("memory_store",
		mcp.WithDescription("Store a memory. Warns when a near-duplicate already exists."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The memory text, one self-contained statement")),
		mcp.WithNumber("importance", mcp.Description("1 (trivia) to 5 (critical), default 3")),
		mcp.WithString("memory_type", mcp.Description("decision, insight, fact, preference, project, conversation or general")),
		mcp.WithArray("topic_tags", mcp.Description("Short topic tags"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("source_session", mcp.Description("Where the memory came from")),
	), s.handleStore)

	s.mcp.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Semantic search over stored memories, ranked by similarity, importance, recency and use."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 5")),
		mcp.WithNumber("threshold", mcp.Description("Minimum score, default 0.40")),
		mcp.WithString("memory_type", mcp.Description("Only return this type")),
		mcp.WithNumber("min_importance", mcp.Description("Only return memories at least this important")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("memory_get",
		mcp.WithDescription("Fetch one memory with its links."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
	), s.handleGet)

	s.mcp.AddTool(mcp.NewTool("memory_delete",
		mcp.WithDescription("Delete a memory and its links."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
	), s.handleDelete)

	s.mcp.AddTool(mcp.NewTool("memory_link",
		mcp.WithDescription("Record a directed relationship between two memories."),
		mcp.WithNumber("from_id", mcp.Required()),
		mcp.WithNumber("to_id", mcp.Required()),
		mcp.WithString("relationship", mcp.Required(), mcp.Description("e.g. supersedes, refines, contradicts")),
	), s.handleLink)

	s.mcp.AddTool(mcp.NewTool("memory_recall",
		mcp.WithDescription("Build a markdown block of the memories most relevant to a query, within a token budget."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("budget", mcp.Description("Token budget, default 2000")),
		mcp.WithBoolean("pinned", mcp.Description("Always include importance-5 memories")),
	), s.handleRecall)

	if s.pipeline != nil {
		s.mcp.AddTool(mcp.NewTool("memory_ingest",
			mcp.WithDescription("Run conversation text through the extraction pipeline and store what is worth remembering."),
			mcp.WithString("text", mcp.Required(), mcp.Description("Conversation transcript")),
			mcp.WithString("session", mcp.Description("Provenance label stored with each memory")),
		), s.handleIngest)
	}
}
