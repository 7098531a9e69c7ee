package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"restaurant-voice/internal/metrics"
	"restaurant-voice/internal/tenant"
)

const (
	// SearchTimeout bounds cache lookup, embedding and vector search together.
	SearchTimeout = 15 * time.Second

	DefaultResultLimit = 5
	spokenResults      = 3

	DelayMessage = "I'm experiencing a delay retrieving that information. Please try again in a moment."
)

var ErrInvalidRequest = errors.New("invalid knowledge request")

// Cache is satisfied by *cache.Manager.
type Cache interface {
	Get(ctx context.Context, tenant, query, category string) (json.RawMessage, bool)
	Set(ctx context.Context, tenant, query, category string, payload any, ttl time.Duration)
}

// TenantChain is satisfied by *tenant.Chain.
type TenantChain interface {
	Resolve(ctx context.Context, s tenant.Signals) (string, tenant.Source)
}

type Options struct {
	Cache    Cache
	Embedder Embedder
	Searcher Searcher
	Tenants  TenantChain
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Service answers knowledge tool calls for one tenant at a time.
type Service struct {
	cache    Cache
	embedder Embedder
	searcher Searcher
	tenants  TenantChain
	timeout  time.Duration
	log      *slog.Logger
}

func NewService(o Options) *Service {
	if o.Timeout <= 0 {
		o.Timeout = SearchTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{
		cache:    o.Cache,
		embedder: o.Embedder,
		searcher: o.Searcher,
		tenants:  o.Tenants,
		timeout:  o.Timeout,
		log:      o.Logger.With("component", "knowledge"),
	}
}

// Item is the structured form of one result.
type Item struct {
	Content  string          `json:"content"`
	Category string          `json:"category,omitempty"`
	Score    float64         `json:"score"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
	Items      []Item `json:"items,omitempty"`
}

// ToolResponse is the body returned to the vendor.
type ToolResponse struct {
	Results []ToolResult `json:"results"`
}

// Prepare turns a raw tool call into a validated SearchRequest, resolving
// the tenant from header, query parameter, metadata and phone in that order.
func (s *Service) Prepare(ctx context.Context, req ToolCallRequest, header, queryParam string) (SearchRequest, error) {
	// The query is kept verbatim: it is part of the cache key.
	query := req.ExtractQuery()
	if strings.TrimSpace(query) == "" {
		query = ""
	}
	sr := SearchRequest{
		Query:      query,
		ToolCallID: req.ToolCallID(),
		Category:   CategoryForTool(req.ToolName()),
		Limit:      DefaultResultLimit,
	}
	if sr.Query != "" && sr.ToolCallID != "" && s.tenants != nil {
		tid, src := s.tenants.Resolve(ctx, tenant.Signals{
			Header:   header,
			Query:    queryParam,
			Metadata: req.MetadataTenant(),
			Phone:    req.PhoneNumber(),
		})
		sr.TenantID = tid
		s.log.DebugContext(ctx, "tenant resolved", "source", string(src), "tenant", tid)
	}
	if err := sr.Validate(); err != nil {
		return SearchRequest{}, err
	}
	return sr, nil
}

// Answer runs the search and shapes the tool response. A search that
// exceeds the timeout answers with DelayMessage instead of an error.
func (s *Service) Answer(ctx context.Context, req SearchRequest) (ToolResponse, error) {
	if err := req.Validate(); err != nil {
		return ToolResponse{}, err
	}
	label := req.Category
	if label == "" {
		label = "all"
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs, source, err := s.search(sctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && sctx.Err() != nil && ctx.Err() == nil {
			metrics.KnowledgeQueriesTotal.WithLabelValues(label, "timeout").Inc()
			s.log.WarnContext(ctx, "knowledge search timed out", "tenant", req.TenantID, "category", label)
			return single(req.ToolCallID, DelayMessage, nil), nil
		}
		metrics.KnowledgeQueriesTotal.WithLabelValues(label, "error").Inc()
		return ToolResponse{}, err
	}
	metrics.KnowledgeQueriesTotal.WithLabelValues(label, source).Inc()

	if len(docs) == 0 {
		s.log.InfoContext(ctx, "no knowledge results", "tenant", req.TenantID, "category", label)
		return single(req.ToolCallID, noResultMessage(req.Category), nil), nil
	}

	n := len(docs)
	if n > spokenResults {
		n = spokenResults
	}
	parts := make([]string, 0, n)
	for _, d := range docs[:n] {
		parts = append(parts, d.Content)
	}
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, Item{Content: d.Content, Category: req.Category, Score: d.Score, Metadata: d.Metadata})
	}
	return single(req.ToolCallID, strings.Join(parts, "\n\n"), items), nil
}

func (s *Service) search(ctx context.Context, req SearchRequest) ([]Document, string, error) {
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, req.TenantID, req.Query, req.Category); ok {
			var docs []Document
			if err := json.Unmarshal(raw, &docs); err == nil {
				return docs, "cache", nil
			}
			s.log.WarnContext(ctx, "discarding undecodable cache entry", "tenant", req.TenantID)
		}
	}
	if s.embedder == nil || s.searcher == nil {
		return nil, "", errors.New("knowledge search not configured")
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, "", err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	docs, err := s.searcher.Search(ctx, req.TenantID, req.Category, vec, limit)
	if err != nil {
		return nil, "", err
	}
	if docs == nil {
		docs = []Document{}
	}
	if s.cache != nil {
		s.cache.Set(ctx, req.TenantID, req.Query, req.Category, docs, 0)
	}
	return docs, "search", nil
}

func single(toolCallID, text string, items []Item) ToolResponse {
	return ToolResponse{Results: []ToolResult{{ToolCallID: toolCallID, Result: text, Items: items}}}
}

func noResultMessage(category string) string {
	if category == "" {
		return "I couldn't find any information about that."
	}
	return "I couldn't find any " + category + " information about that."
}
