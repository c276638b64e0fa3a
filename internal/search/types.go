// Package search exposes the façade the core uses to talk to the event
// index. The concrete backend is Elasticsearch-wire compatible but the core
// only depends on the Service interface.
package search

import "context"

// Query is an opaque query DSL fragment (bool/term/range/...).
type Query map[string]interface{}

// MatchAll matches every document.
func MatchAll() Query {
	return Query{"match_all": map[string]interface{}{}}
}

// Request is one search call.
type Request struct {
	Indices []string
	Query   Query
	Size    int
	From    int
	Sort    []map[string]string // field -> "asc"|"desc"
	Aggs    map[string]interface{}
}

// Hit is one matching document.
type Hit struct {
	Index  string                 `json:"_index"`
	ID     string                 `json:"_id"`
	Score  float64                `json:"_score"`
	Source map[string]interface{} `json:"_source"`
}

// Result is the response to a search request.
type Result struct {
	TookMS       int64
	Total        int64
	Hits         []Hit
	Aggregations map[string]interface{}
}

// BulkAction indexes one document. An empty ID lets the backend assign one.
type BulkAction struct {
	Index string
	ID    string
	Doc   map[string]interface{}
}

// BulkError describes one failed bulk item.
type BulkError struct {
	ID     string
	Reason string
}

// BulkResult summarizes a bulk call.
type BulkResult struct {
	Success int
	Errors  []BulkError
}

// IndexInfo is one row of cat_indices output.
type IndexInfo struct {
	Index     string `json:"index"`
	DocsCount int64  `json:"docs_count"`
	StoreSize string `json:"store_size"`
	Health    string `json:"health"`
}

// ReindexResult summarizes a reindex call.
type ReindexResult struct {
	Total    int64
	Created  int64
	Updated  int64
	Failures []string
}

// Service is the search façade consumed by the core.
type Service interface {
	Search(ctx context.Context, req Request) (*Result, error)
	Bulk(ctx context.Context, actions []BulkAction) (*BulkResult, error)
	Count(ctx context.Context, index string, query Query) (int64, error)
	CatIndices(ctx context.Context, pattern string) ([]IndexInfo, error)
	GetMapping(ctx context.Context, index string) (map[string]interface{}, error)
	CreateIndex(ctx context.Context, name string, mappings, settings map[string]interface{}) error
	Reindex(ctx context.Context, src, dest string, query Query) (*ReindexResult, error)
	DeleteByQuery(ctx context.Context, index string, query Query) (int64, error)
}
