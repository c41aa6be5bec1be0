package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	ctxpkg "github.com/memvra/memory-agent/internal/context"
	"github.com/memvra/memory-agent/internal/memory"
)

func (s *Server) handleStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil || strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}

	dups, err := s.store.FindDuplicates(ctx, content, memory.DefaultDedupThreshold)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check duplicates: %v", err)), nil
	}

	id, err := s.store.Store(ctx, memory.NewMemory{
		Content:       content,
		Importance:    req.GetInt("importance", memory.DefaultImportance),
		MemoryType:    memory.NormalizeType(req.GetString("memory_type", "")),
		TopicTags:     req.GetStringSlice("topic_tags", nil),
		SourceSession: req.GetString("source_session", "mcp"),
	})
	if err != nil {
		s.logger.Error("store failed", "chars", len(content), "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to store memory: %v", err)), nil
	}

	msg := fmt.Sprintf("Stored memory %d.", id)
	if len(dups) > 0 {
		msg += fmt.Sprintf(" Note: similar to existing memory %d (score %.2f): %s",
			dups[0].ID, dups[0].Score, truncate(dups[0].Content, 80))
	}
	return mcp.NewToolResultText(msg), nil
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	opts := memory.DefaultSearchOptions()
	opts.Limit = req.GetInt("limit", opts.Limit)
	opts.Threshold = req.GetFloat("threshold", opts.Threshold)
	opts.MinImportance = req.GetInt("min_importance", opts.MinImportance)
	if t := req.GetString("memory_type", ""); t != "" {
		opts.MemoryType = memory.NormalizeType(t)
	}

	results, err := s.store.Search(ctx, query, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No matching memories."), nil
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "[%d] (%s, imp=%d, score=%.3f) %s\n", r.ID, r.MemoryType, r.Importance, r.Score, r.Content)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	m, err := s.store.Get(ctx, int64(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get memory: %v", err)), nil
	}
	if m == nil {
		return mcp.NewToolResultError(fmt.Sprintf("memory %d not found", id)), nil
	}
	links, err := s.store.Links(ctx, m.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get links: %v", err)), nil
	}
	backlinks, err := s.store.Backlinks(ctx, m.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get links: %v", err)), nil
	}

	b, err := json.MarshalIndent(struct {
		*memory.Memory
		Links     []memory.Link `json:"links"`
		Backlinks []memory.Link `json:"backlinks"`
	}{m, links, backlinks}, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	ok, err := s.store.Delete(ctx, int64(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete memory: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("memory %d not found", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory %d deleted.", id)), nil
}

func (s *Server) handleLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireInt("from_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: from_id"), nil
	}
	to, err := req.RequireInt("to_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: to_id"), nil
	}
	rel, err := req.RequireString("relationship")
	if err != nil || strings.TrimSpace(rel) == "" {
		return mcp.NewToolResultError("missing required parameter: relationship"), nil
	}
	ok, err := s.store.Link(ctx, int64(from), int64(to), rel)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to link: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("No link created: %d or %d does not exist, or the link already exists.", from, to)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Linked %d -[%s]-> %d.", from, rel, to)), nil
}

func (s *Server) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	rc, err := s.recall.Build(ctx, ctxpkg.BuildOptions{
		Query:  query,
		Budget: req.GetInt("budget", 0),
		Pinned: req.GetBool("pinned", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recall failed: %v", err)), nil
	}
	if rc.Text == "" {
		return mcp.NewToolResultText("No relevant memories."), nil
	}
	return mcp.NewToolResultText(rc.Text), nil
}

func (s *Server) handleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil || strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	session := req.GetString("session", "mcp")
	ids, err := s.pipeline.ProcessConversation(ctx, text, session, s.chunkSize, s.overlap)
	if err != nil {
		s.logger.Warn("ingest incomplete", "session", session, "chars", len(text), "stored", len(ids), "err", err)
	}
	if err != nil && len(ids) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}
	st := s.pipeline.Stats()
	msg := fmt.Sprintf("Stored %d memories %v (pipeline totals: %d chunks, %d passed gate, %d deduped, %d updated).",
		len(ids), ids, st.ChunksProcessed, st.ChunksPassedGate, st.MemoriesDeduped, st.MemoriesUpdated)
	if err != nil {
		msg += fmt.Sprintf(" Some chunks failed: %v", err)
	}
	return mcp.NewToolResultText(msg), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
