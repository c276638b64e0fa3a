package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// ClientConfig holds configuration for the search backend client.
type ClientConfig struct {
	URL       string
	Username  string
	Password  string
	APIKey    string
	VerifySSL bool
	Timeout   time.Duration
}

// Client is an Elasticsearch-wire-compatible implementation of Service.
// One client is created at startup and reused for every call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        ClientConfig
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a search backend client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("search backend URL is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		cfg.URL = "https://" + cfg.URL
		log.Debug().Str("url", cfg.URL).Msg("No protocol specified for search backend, defaulting to HTTPS")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "search",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Search breaker state changed")
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg:        cfg,
		breaker:    breaker,
	}, nil
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, method, path, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, argerr.Transient("search_request", err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/x-ndjson"
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.cfg.APIKey)
	} else if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, argerr.Transient("search_request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, argerr.Transient("search_request", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("search backend returned %d: %s", resp.StatusCode, truncate(string(data), 512))
		if resp.StatusCode == 404 {
			return nil, argerr.New(argerr.KindNotFound, "search_request", path, err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			return nil, argerr.New(argerr.KindTransient, "search_request", path, err).WithStatusCode(resp.StatusCode)
		}
		return nil, argerr.New(argerr.KindAdapter, "search_request", path, err).WithStatusCode(resp.StatusCode)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type esSearchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]interface{} `json:"aggregations"`
}

// Search implements Service.
func (c *Client) Search(ctx context.Context, req Request) (*Result, error) {
	indices := "_all"
	if len(req.Indices) > 0 {
		indices = strings.Join(req.Indices, ",")
	}
	body := map[string]interface{}{}
	if req.Query != nil {
		body["query"] = map[string]interface{}(req.Query)
	}
	if req.Size > 0 {
		body["size"] = req.Size
	}
	if req.From > 0 {
		body["from"] = req.From
	}
	if len(req.Sort) > 0 {
		body["sort"] = req.Sort
	}
	if len(req.Aggs) > 0 {
		body["aggs"] = req.Aggs
	}

	data, err := c.request(ctx, http.MethodPost, "/"+url.PathEscape(indices)+"/_search", body)
	if err != nil {
		return nil, err
	}
	var parsed esSearchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &Result{
		TookMS:       parsed.Took,
		Total:        parsed.Hits.Total.Value,
		Hits:         parsed.Hits.Hits,
		Aggregations: parsed.Aggregations,
	}, nil
}

// Bulk implements Service using the ndjson _bulk wire format.
func (c *Client) Bulk(ctx context.Context, actions []BulkAction) (*BulkResult, error) {
	if len(actions) == 0 {
		return &BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		meta := map[string]interface{}{"_index": a.Index}
		if a.ID != "" {
			meta["_id"] = a.ID
		}
		if err := enc.Encode(map[string]interface{}{"index": meta}); err != nil {
			return nil, fmt.Errorf("failed to encode bulk meta: %w", err)
		}
		if err := enc.Encode(a.Doc); err != nil {
			return nil, fmt.Errorf("failed to encode bulk doc: %w", err)
		}
	}

	data, err := c.request(ctx, http.MethodPost, "/_bulk", buf.Bytes())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	res := &BulkResult{}
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error != nil || op.Status >= 400 {
				reason := "unknown"
				if op.Error != nil {
					reason = op.Error.Reason
				}
				res.Errors = append(res.Errors, BulkError{ID: op.ID, Reason: reason})
			} else {
				res.Success++
			}
		}
	}
	return res, nil
}

// Count implements Service.
func (c *Client) Count(ctx context.Context, index string, query Query) (int64, error) {
	body := map[string]interface{}{}
	if query != nil {
		body["query"] = map[string]interface{}(query)
	}
	data, err := c.request(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_count", body)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return parsed.Count, nil
}

// CatIndices implements Service.
func (c *Client) CatIndices(ctx context.Context, pattern string) ([]IndexInfo, error) {
	path := "/_cat/indices?format=json&bytes=b"
	if pattern != "" {
		path = "/_cat/indices/" + url.PathEscape(pattern) + "?format=json&bytes=b"
	}
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Index     string `json:"index"`
		DocsCount string `json:"docs.count"`
		StoreSize string `json:"store.size"`
		Health    string `json:"health"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode cat indices response: %w", err)
	}
	out := make([]IndexInfo, 0, len(rows))
	for _, row := range rows {
		var docs int64
		fmt.Sscanf(row.DocsCount, "%d", &docs)
		out = append(out, IndexInfo{Index: row.Index, DocsCount: docs, StoreSize: row.StoreSize, Health: row.Health})
	}
	return out, nil
}

// GetMapping implements Service.
func (c *Client) GetMapping(ctx context.Context, index string) (map[string]interface{}, error) {
	data, err := c.request(ctx, http.MethodGet, "/"+url.PathEscape(index)+"/_mapping", nil)
	if err != nil {
		return nil, err
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode mapping response: %w", err)
	}
	return parsed, nil
}

// CreateIndex implements Service.
func (c *Client) CreateIndex(ctx context.Context, name string, mappings, settings map[string]interface{}) error {
	body := map[string]interface{}{}
	if mappings != nil {
		body["mappings"] = mappings
	}
	if settings != nil {
		body["settings"] = settings
	}
	_, err := c.request(ctx, http.MethodPut, "/"+url.PathEscape(name), body)
	return err
}

// Reindex implements Service.
func (c *Client) Reindex(ctx context.Context, src, dest string, query Query) (*ReindexResult, error) {
	source := map[string]interface{}{"index": src}
	if query != nil {
		source["query"] = map[string]interface{}(query)
	}
	body := map[string]interface{}{
		"source": source,
		"dest":   map[string]interface{}{"index": dest},
	}
	data, err := c.request(ctx, http.MethodPost, "/_reindex", body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Total    int64 `json:"total"`
		Created  int64 `json:"created"`
		Updated  int64 `json:"updated"`
		Failures []struct {
			Cause struct {
				Reason string `json:"reason"`
			} `json:"cause"`
		} `json:"failures"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode reindex response: %w", err)
	}
	res := &ReindexResult{Total: parsed.Total, Created: parsed.Created, Updated: parsed.Updated}
	for _, f := range parsed.Failures {
		res.Failures = append(res.Failures, f.Cause.Reason)
	}
	return res, nil
}

// DeleteByQuery implements Service.
func (c *Client) DeleteByQuery(ctx context.Context, index string, query Query) (int64, error) {
	body := map[string]interface{}{"query": map[string]interface{}(query)}
	data, err := c.request(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_delete_by_query", body)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode delete_by_query response: %w", err)
	}
	return parsed.Deleted, nil
}
