package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/memvra/memory-agent/internal/adapter"
	ctxpkg "github.com/memvra/memory-agent/internal/context"
	"github.com/memvra/memory-agent/internal/memory"
)

type memoryView struct {
	memory.Memory
	AgeDays float64 `json:"age_days"`
}

type resultView struct {
	memoryView
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

func (s *Server) view(m memory.Memory) memoryView {
	age := s.now().Sub(m.CreatedAt).Hours() / 24
	if m.TopicTags == nil {
		m.TopicTags = []string{}
	}
	return memoryView{Memory: m, AgeDays: round(age, 1)}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	count, err := s.store.Count(c.Context())
	if err != nil {
		return err
	}
	var h adapter.Health
	if hc, ok := s.store.Embedder().(adapter.HealthChecker); ok {
		h = hc.Health(c.Context())
	} else {
		h = adapter.Health{Available: true, ModelLoaded: true, Model: s.store.Embedder().Model()}
	}
	status := "ok"
	if !h.OK() {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":    status,
		"embedding": h,
		"memories":  count,
		"index":     s.store.Backend(),
		"pipeline":  s.pipeline != nil,
		"listener":  s.listener != nil,
	})
}

func (s *Server) handleStats(c fiber.Ctx) error {
	st, err := s.store.Stats(c.Context())
	if err != nil {
		return err
	}
	raw, err := s.store.RawChunkStats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"memories": st, "raw_chunks": raw})
}

func (s *Server) handleList(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	items, total, err := s.store.List(c.Context(), memory.ListOptions{
		Limit:      limit,
		Offset:     offset,
		Sort:       c.Query("sort"),
		MemoryType: memory.MemoryType(c.Query("type")),
	})
	if err != nil {
		return err
	}
	views := make([]memoryView, 0, len(items))
	for _, m := range items {
		views = append(views, s.view(m))
	}
	return c.JSON(fiber.Map{"memories": views, "total": total, "limit": limit, "offset": offset})
}

func (s *Server) handleGet(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	m, err := s.store.Get(c.Context(), id)
	if err != nil {
		return err
	}
	if m == nil {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Memory %d not found", id))
	}
	links, err := s.store.Links(c.Context(), id)
	if err != nil {
		return err
	}
	backlinks, err := s.store.Backlinks(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(struct {
		memoryView
		Links     []memory.Link `json:"links"`
		Backlinks []memory.Link `json:"backlinks"`
	}{s.view(*m), links, backlinks})
}

type storeRequest struct {
	Content       string   `json:"content"`
	Importance    int      `json:"importance"`
	MemoryType    string   `json:"memory_type"`
	TopicTags     []string `json:"topic_tags"`
	SourceSession string   `json:"source_session"`
}

func (s *Server) handleStore(c fiber.Ctx) error {
	var req storeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing 'content' field")
	}
	id, err := s.store.Store(c.Context(), memory.NewMemory{
		Content:       req.Content,
		Importance:    req.Importance,
		MemoryType:    memory.NormalizeType(req.MemoryType),
		TopicTags:     req.TopicTags,
		SourceSession: req.SourceSession,
	})
	if err != nil {
		return storeError(err)
	}
	return c.JSON(fiber.Map{"id": id, "stored": true})
}

type updateRequest struct {
	Content    *string  `json:"content"`
	Importance *int     `json:"importance"`
	TopicTags  []string `json:"topic_tags"`
}

func (s *Server) handleUpdate(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ok, err := s.store.Update(c.Context(), id, memory.Patch{
		Content:    req.Content,
		Importance: req.Importance,
		TopicTags:  req.TopicTags,
	})
	if err != nil {
		return storeError(err)
	}
	if !ok {
		m, err := s.store.Get(c.Context(), id)
		if err != nil {
			return err
		}
		if m == nil {
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Memory %d not found", id))
		}
	}
	return c.JSON(fiber.Map{"id": id, "updated": ok})
}

func (s *Server) handleDelete(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ok, err := s.store.Delete(c.Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Memory %d not found", id))
	}
	return c.JSON(fiber.Map{"deleted": true, "id": id})
}

type linkRequest struct {
	ToID         int64  `json:"to_id"`
	Relationship string `json:"relationship"`
}

func (s *Server) handleLink(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req linkRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.ToID <= 0 || strings.TrimSpace(req.Relationship) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing 'to_id' or 'relationship' field")
	}
	ok, err := s.store.Link(c.Context(), id, req.ToID, req.Relationship)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"linked": ok, "from_id": id, "to_id": req.ToID, "relationship": req.Relationship})
}

type searchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	Threshold     *float64 `json:"threshold"`
	MemoryType    string   `json:"memory_type"`
	MinImportance int      `json:"min_importance"`
}

func (s *Server) handleSearch(c fiber.Ctx) error {
	var req searchRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Query) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing 'query' field")
	}
	opts := memory.DefaultSearchOptions()
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if req.MemoryType != "" {
		opts.MemoryType = memory.NormalizeType(req.MemoryType)
	}
	if req.MinImportance > 0 {
		opts.MinImportance = req.MinImportance
	}

	results, err := s.store.Search(c.Context(), req.Query, opts)
	if err != nil {
		return storeError(err)
	}
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		views = append(views, resultView{
			memoryView: s.view(r.Memory),
			Score:      round(r.Score, 4),
			Similarity: round(r.Similarity, 4),
		})
	}
	return c.JSON(fiber.Map{"query": req.Query, "results": views, "count": len(views)})
}

type recallRequest struct {
	Query  string `json:"query"`
	Budget int    `json:"budget"`
	Limit  int    `json:"limit"`
	Pinned bool   `json:"pinned"`
}

func (s *Server) handleRecall(c fiber.Ctx) error {
	var req recallRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Query) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing 'query' field")
	}
	rc, err := s.recall.Build(c.Context(), ctxpkg.BuildOptions{
		Query:  req.Query,
		Budget: req.Budget,
		Limit:  req.Limit,
		Pinned: req.Pinned,
	})
	if err != nil {
		return storeError(err)
	}
	ids := rc.IDs
	if ids == nil {
		ids = []int64{}
	}
	return c.JSON(fiber.Map{
		"text":          rc.Text,
		"tokens_used":   rc.TokensUsed,
		"memories_used": rc.MemoriesUsed,
		"truncated":     rc.Truncated,
		"ids":           ids,
	})
}

type ingestRequest struct {
	Chunk   string `json:"chunk"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

func (s *Server) handleIngest(c fiber.Ctx) error {
	var req ingestRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	chunk := req.Chunk
	if chunk == "" {
		chunk = req.Text
	}
	if strings.TrimSpace(chunk) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing 'chunk' or 'text' field")
	}
	if s.pipeline == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Extraction pipeline not initialized")
	}
	ids, err := s.pipeline.ProcessChunk(c.Context(), chunk, req.Session)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []int64{}
	}
	return c.JSON(fiber.Map{
		"stored_ids":      ids,
		"memories_stored": len(ids),
		"pipeline_stats":  s.pipeline.Stats(),
	})
}

func (s *Server) handlePipelineStats(c fiber.Ctx) error {
	if s.pipeline == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Pipeline not initialized")
	}
	return c.JSON(s.pipeline.Stats())
}

func (s *Server) handleListenerStats(c fiber.Ctx) error {
	if s.listener == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Listener not running")
	}
	return c.JSON(s.listener.Stats())
}

func paramID(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid memory ID")
	}
	return id, nil
}

func queryInt(c fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid '%s' parameter", key))
	}
	return v, nil
}

func bindJSON(c fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.Bind().JSON(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
	}
	return nil
}

// storeError maps embedding failures to 503 so clients can tell a down
// provider from a broken request.
func storeError(err error) error {
	if errors.Is(err, memory.ErrEmbedding) {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return err
}
