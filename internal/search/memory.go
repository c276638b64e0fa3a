package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Service used by tests and local development. It
// evaluates the DSL subset the core emits (bool, term, terms, match, prefix,
// wildcard, range, exists, match_all, query_string).
type Memory struct {
	mu      sync.RWMutex
	indices map[string]map[string]map[string]interface{} // index -> id -> doc
}

// NewMemory creates an empty in-memory search service.
func NewMemory() *Memory {
	return &Memory{indices: make(map[string]map[string]map[string]interface{})}
}

// Search implements Service.
func (m *Memory) Search(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := time.Now()
	var hits []Hit
	for name, docs := range m.indices {
		if !matchIndex(req.Indices, name) {
			continue
		}
		for id, doc := range docs {
			if evalQuery(req.Query, doc) {
				hits = append(hits, Hit{Index: name, ID: id, Score: 1, Source: doc})
			}
		}
	}

	sortHits(hits, req.Sort)
	total := int64(len(hits))

	if req.From > 0 {
		if req.From >= len(hits) {
			hits = nil
		} else {
			hits = hits[req.From:]
		}
	}
	size := req.Size
	if size <= 0 {
		size = 10
	}
	if len(hits) > size {
		hits = hits[:size]
	}

	return &Result{
		TookMS: time.Since(start).Milliseconds(),
		Total:  total,
		Hits:   hits,
	}, nil
}

// Bulk implements Service.
func (m *Memory) Bulk(ctx context.Context, actions []BulkAction) (*BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &BulkResult{}
	for _, a := range actions {
		if a.Index == "" {
			res.Errors = append(res.Errors, BulkError{ID: a.ID, Reason: "missing index"})
			continue
		}
		docs, ok := m.indices[a.Index]
		if !ok {
			docs = make(map[string]map[string]interface{})
			m.indices[a.Index] = docs
		}
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		docs[id] = a.Doc
		res.Success++
	}
	return res, nil
}

// Count implements Service.
func (m *Memory) Count(ctx context.Context, index string, query Query) (int64, error) {
	res, err := m.Search(ctx, Request{Indices: []string{index}, Query: query, Size: 1})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// CatIndices implements Service.
func (m *Memory) CatIndices(ctx context.Context, pattern string) ([]IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []IndexInfo
	for name, docs := range m.indices {
		if pattern != "" && !globMatch(pattern, name) {
			continue
		}
		out = append(out, IndexInfo{Index: name, DocsCount: int64(len(docs)), Health: "green"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// GetMapping implements Service. The in-memory backend is schemaless.
func (m *Memory) GetMapping(ctx context.Context, index string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.indices[index]; !ok {
		return nil, fmt.Errorf("index %s: %w", index, errIndexNotFound)
	}
	return map[string]interface{}{"properties": map[string]interface{}{}}, nil
}

// CreateIndex implements Service.
func (m *Memory) CreateIndex(ctx context.Context, name string, mappings, settings map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[name]; ok {
		return fmt.Errorf("index %s already exists", name)
	}
	m.indices[name] = make(map[string]map[string]interface{})
	return nil
}

// Reindex implements Service.
func (m *Memory) Reindex(ctx context.Context, src, dest string, query Query) (*ReindexResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	srcDocs, ok := m.indices[src]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", src, errIndexNotFound)
	}
	dstDocs, ok := m.indices[dest]
	if !ok {
		dstDocs = make(map[string]map[string]interface{})
		m.indices[dest] = dstDocs
	}

	res := &ReindexResult{}
	for id, doc := range srcDocs {
		if query != nil && !evalQuery(query, doc) {
			continue
		}
		res.Total++
		if _, exists := dstDocs[id]; exists {
			res.Updated++
		} else {
			res.Created++
		}
		dstDocs[id] = doc
	}
	return res, nil
}

// DeleteByQuery implements Service.
func (m *Memory) DeleteByQuery(ctx context.Context, index string, query Query) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for name, docs := range m.indices {
		if !globMatch(index, name) {
			continue
		}
		for id, doc := range docs {
			if evalQuery(query, doc) {
				delete(docs, id)
				deleted++
			}
		}
	}
	return deleted, nil
}

var errIndexNotFound = fmt.Errorf("index not found")

func matchIndex(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

// globMatch supports trailing-* patterns, the only form index patterns use.
func globMatch(pattern, name string) bool {
	if pattern == "" || pattern == "*" || pattern == "_all" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

func sortHits(hits []Hit, sorts []map[string]string) {
	if len(sorts) == 0 {
		// Deterministic default order for tests: ascending @timestamp, then id.
		sorts = []map[string]string{{"@timestamp": "asc"}}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		for _, s := range sorts {
			for field, dir := range s {
				vi, _ := LookupField(hits[i].Source, field)
				vj, _ := LookupField(hits[j].Source, field)
				cmp := compareValues(vi, vj)
				if cmp == 0 {
					continue
				}
				if dir == "desc" {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return hits[i].ID < hits[j].ID
	})
}

func compareValues(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := Stringify(a), Stringify(b)
	return strings.Compare(as, bs)
}

// LookupField resolves a dotted path against a nested document. Map keys may
// themselves contain dots (e.g. "file.path" under "log"), so both the
// split-path walk and literal-key lookups are attempted.
func LookupField(doc map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for i := 0; i < len(parts); i++ {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		// Try the longest literal key first.
		rest := strings.Join(parts[i:], ".")
		if v, ok := m[rest]; ok {
			return v, true
		}
		cur, ok = m[parts[i]]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func evalQuery(q Query, doc map[string]interface{}) bool {
	if len(q) == 0 {
		return true
	}
	for kind, body := range q {
		switch kind {
		case "match_all":
			return true
		case "term":
			return evalTerm(body, doc)
		case "terms":
			return evalTerms(body, doc)
		case "match":
			return evalMatch(body, doc)
		case "prefix":
			return evalPrefix(body, doc)
		case "wildcard":
			return evalWildcard(body, doc)
		case "range":
			return evalRange(body, doc)
		case "exists":
			return evalExists(body, doc)
		case "bool":
			return evalBool(body, doc)
		case "query_string":
			return evalQueryString(body, doc)
		}
	}
	return false
}

func fieldValuePairs(body interface{}) (string, interface{}, bool) {
	m, ok := body.(map[string]interface{})
	if !ok {
		return "", nil, false
	}
	for field, value := range m {
		return field, value, true
	}
	return "", nil, false
}

func valueMatches(docVal interface{}, match func(interface{}) bool) bool {
	switch v := docVal.(type) {
	case []interface{}:
		for _, elem := range v {
			if match(elem) {
				return true
			}
		}
		return false
	case []string:
		for _, elem := range v {
			if match(elem) {
				return true
			}
		}
		return false
	default:
		return match(docVal)
	}
}

func evalTerm(body interface{}, doc map[string]interface{}) bool {
	field, want, ok := fieldValuePairs(body)
	if !ok {
		return false
	}
	if wm, ok := want.(map[string]interface{}); ok {
		want = wm["value"]
	}
	got, ok := LookupField(doc, field)
	if !ok {
		return false
	}
	return valueMatches(got, func(v interface{}) bool { return looseEqual(v, want) })
}

func evalTerms(body interface{}, doc map[string]interface{}) bool {
	field, want, ok := fieldValuePairs(body)
	if !ok {
		return false
	}
	list, ok := want.([]interface{})
	if !ok {
		return false
	}
	got, ok := LookupField(doc, field)
	if !ok {
		return false
	}
	return valueMatches(got, func(v interface{}) bool {
		for _, w := range list {
			if looseEqual(v, w) {
				return true
			}
		}
		return false
	})
}

func evalMatch(body interface{}, doc map[string]interface{}) bool {
	field, want, ok := fieldValuePairs(body)
	if !ok {
		return false
	}
	if wm, ok := want.(map[string]interface{}); ok {
		want = wm["query"]
	}
	got, ok := LookupField(doc, field)
	if !ok {
		return false
	}
	needle := strings.ToLower(Stringify(want))
	return valueMatches(got, func(v interface{}) bool {
		return strings.Contains(strings.ToLower(Stringify(v)), needle)
	})
}

func evalPrefix(body interface{}, doc map[string]interface{}) bool {
	field, want, ok := fieldValuePairs(body)
	if !ok {
		return false
	}
	if wm, ok := want.(map[string]interface{}); ok {
		want = wm["value"]
	}
	got, ok := LookupField(doc, field)
	if !ok {
		return false
	}
	prefix := strings.ToLower(Stringify(want))
	return valueMatches(got, func(v interface{}) bool {
		return strings.HasPrefix(strings.ToLower(Stringify(v)), prefix)
	})
}

func evalWildcard(body interface{}, doc map[string]interface{}) bool {
	field, want, ok := fieldValuePairs(body)
	if !ok {
		return false
	}
	if wm, ok := want.(map[string]interface{}); ok {
		want = wm["value"]
	}
	pattern := strings.ToLower(Stringify(want))
	got, ok := LookupField(doc, field)
	if !ok {
		return false
	}
	return valueMatches(got, func(v interface{}) bool {
		return wildcardMatch(pattern, strings.ToLower(Stringify(v)))
	})
}

func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

func evalRange(body interface{}, doc map[string]interface{}) bool {
	field, bounds, ok := fieldValuePairs(body)
	if !ok {
		return false
	}
	bm, ok := bounds.(map[string]interface{})
	if !ok {
		return false
	}
	got, ok := LookupField(doc, field)
	if !ok {
		return false
	}
	return valueMatches(got, func(v interface{}) bool {
		for op, bound := range bm {
			cmp := compareScalar(v, bound)
			switch op {
			case "gte":
				if cmp < 0 {
					return false
				}
			case "gt":
				if cmp <= 0 {
					return false
				}
			case "lte":
				if cmp > 0 {
					return false
				}
			case "lt":
				if cmp >= 0 {
					return false
				}
			}
		}
		return true
	})
}

func compareScalar(a, b interface{}) int {
	if ta, ok := parseTime(a); ok {
		if tb, ok := parseTime(b); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}
	return compareValues(a, b)
}

func parseTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func evalExists(body interface{}, doc map[string]interface{}) bool {
	m, ok := body.(map[string]interface{})
	if !ok {
		return false
	}
	field, _ := m["field"].(string)
	_, ok = LookupField(doc, field)
	return ok
}

func evalBool(body interface{}, doc map[string]interface{}) bool {
	m, ok := body.(map[string]interface{})
	if !ok {
		return false
	}
	for _, clause := range asClauseList(m["must"]) {
		if !evalQuery(clause, doc) {
			return false
		}
	}
	for _, clause := range asClauseList(m["filter"]) {
		if !evalQuery(clause, doc) {
			return false
		}
	}
	for _, clause := range asClauseList(m["must_not"]) {
		if evalQuery(clause, doc) {
			return false
		}
	}
	should := asClauseList(m["should"])
	if len(should) > 0 {
		minMatch := 1
		if mm, ok := toFloat(m["minimum_should_match"]); ok {
			minMatch = int(mm)
		}
		matched := 0
		for _, clause := range should {
			if evalQuery(clause, doc) {
				matched++
			}
		}
		if matched < minMatch {
			return false
		}
	}
	return true
}

func asClauseList(v interface{}) []Query {
	switch c := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]Query, 0, len(c))
		for _, elem := range c {
			if m, ok := elem.(map[string]interface{}); ok {
				out = append(out, Query(m))
			}
		}
		return out
	case map[string]interface{}:
		return []Query{Query(c)}
	case Query:
		return []Query{c}
	case []Query:
		return c
	}
	return nil
}

func evalQueryString(body interface{}, doc map[string]interface{}) bool {
	m, ok := body.(map[string]interface{})
	if !ok {
		return false
	}
	q := strings.ToLower(Stringify(m["query"]))
	if q == "" || q == "*" {
		return true
	}
	if msg, ok := LookupField(doc, "message"); ok {
		if strings.Contains(strings.ToLower(Stringify(msg)), q) {
			return true
		}
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return Stringify(a) == Stringify(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func Stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
