package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	_, err := m.Bulk(context.Background(), []BulkAction{
		{Index: "argus-events-2026.01", ID: "a", Doc: map[string]interface{}{
			"@timestamp": "2026-01-15T10:30:00Z",
			"message":    "Successful logon for CORP\\jsmith",
			"event":      map[string]interface{}{"action": "user_logon", "severity": 20},
			"user":       map[string]interface{}{"name": "jsmith"},
			"host":       map[string]interface{}{"name": "WORK-01"},
		}},
		{Index: "argus-events-2026.01", ID: "b", Doc: map[string]interface{}{
			"@timestamp": "2026-01-15T10:31:00Z",
			"message":    "Failed logon for CORP\\admin",
			"event":      map[string]interface{}{"action": "user_logon", "severity": 45},
			"user":       map[string]interface{}{"name": "admin"},
			"host":       map[string]interface{}{"name": "WORK-02"},
		}},
		{Index: "argus-events-2026.02", ID: "c", Doc: map[string]interface{}{
			"@timestamp": "2026-02-01T00:00:00Z",
			"message":    "Process created: cmd.exe",
			"event":      map[string]interface{}{"action": "process_created", "severity": 25},
			"process":    map[string]interface{}{"name": "cmd.exe", "executable": `C:\Windows\System32\cmd.exe`},
		}},
	})
	require.NoError(t, err)
	return m
}

func TestMemorySearchTermAcrossIndexPattern(t *testing.T) {
	m := seedMemory(t)
	res, err := m.Search(context.Background(), Request{
		Indices: []string{"argus-events-*"},
		Query:   Term("event.action", "user_logon"),
		Size:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
}

func TestMemorySearchBoolAndRange(t *testing.T) {
	m := seedMemory(t)
	res, err := m.Search(context.Background(), Request{
		Indices: []string{"argus-events-*"},
		Query: And(
			Term("event.action", "user_logon"),
			Query{"range": map[string]interface{}{"event.severity": map[string]interface{}{"gte": 40}}},
		),
		Size: 10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Total)
	assert.Equal(t, "b", res.Hits[0].ID)
}

func TestMemorySearchShouldMinimumMatch(t *testing.T) {
	m := seedMemory(t)
	res, err := m.Search(context.Background(), Request{
		Indices: []string{"argus-events-*"},
		Query: Query{"bool": map[string]interface{}{
			"should": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"user.name": "jsmith"}},
				map[string]interface{}{"term": map[string]interface{}{"user.name": "admin"}},
			},
			"minimum_should_match": 1,
		}},
		Size: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
}

func TestMemorySearchWildcardAndPrefix(t *testing.T) {
	m := seedMemory(t)

	res, err := m.Search(context.Background(), Request{
		Query: Query{"wildcard": map[string]interface{}{"process.name": "*.exe"}},
		Size:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)

	res, err = m.Search(context.Background(), Request{
		Query: Query{"prefix": map[string]interface{}{"process.executable": `c:\windows`}},
		Size:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
}

func TestMemorySearchSortAndPagination(t *testing.T) {
	m := seedMemory(t)
	res, err := m.Search(context.Background(), Request{
		Indices: []string{"argus-events-*"},
		Query:   MatchAll(),
		Sort:    []map[string]string{{"@timestamp": "desc"}},
		Size:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "c", res.Hits[0].ID)
	assert.Equal(t, "b", res.Hits[1].ID)

	page2, err := m.Search(context.Background(), Request{
		Indices: []string{"argus-events-*"},
		Query:   MatchAll(),
		Sort:    []map[string]string{{"@timestamp": "desc"}},
		Size:    2,
		From:    2,
	})
	require.NoError(t, err)
	require.Len(t, page2.Hits, 1)
	assert.Equal(t, "a", page2.Hits[0].ID)
}

func TestMemoryCount(t *testing.T) {
	m := seedMemory(t)
	n, err := m.Count(context.Background(), "argus-events-2026.01", MatchAll())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryQueryStringMatchesMessage(t *testing.T) {
	m := seedMemory(t)
	res, err := m.Search(context.Background(), Request{
		Query: QueryString("failed logon"),
		Size:  10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Total)
	assert.Equal(t, "b", res.Hits[0].ID)
}

func TestMemoryDeleteByQuery(t *testing.T) {
	m := seedMemory(t)
	deleted, err := m.DeleteByQuery(context.Background(), "argus-events-*", Term("user.name", "admin"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := m.Count(context.Background(), "argus-events-2026.01", MatchAll())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryReindex(t *testing.T) {
	m := seedMemory(t)
	res, err := m.Reindex(context.Background(), "argus-events-2026.01", "archive-2026.01", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
	assert.Equal(t, int64(2), res.Created)

	again, err := m.Reindex(context.Background(), "argus-events-2026.01", "archive-2026.01", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Updated)
}

func TestMemoryCatIndices(t *testing.T) {
	m := seedMemory(t)
	infos, err := m.CatIndices(context.Background(), "argus-events-*")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "argus-events-2026.01", infos[0].Index)
	assert.Equal(t, int64(2), infos[0].DocsCount)
}

func TestMemoryCreateIndexConflict(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.CreateIndex(context.Background(), "idx", nil, nil))
	assert.Error(t, m.CreateIndex(context.Background(), "idx", nil, nil))
}

func TestMemoryBulkAssignsIDs(t *testing.T) {
	m := NewMemory()
	res, err := m.Bulk(context.Background(), []BulkAction{
		{Index: "idx", Doc: map[string]interface{}{"message": "x"}},
		{Doc: map[string]interface{}{"message": "missing index"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "missing index", res.Errors[0].Reason)
}

func TestLookupFieldLiteralDottedKeys(t *testing.T) {
	doc := map[string]interface{}{
		"log": map[string]interface{}{"file.path": "/var/log/auth.log"},
	}
	v, ok := LookupField(doc, "log.file.path")
	require.True(t, ok)
	assert.Equal(t, "/var/log/auth.log", v)

	_, ok = LookupField(doc, "log.missing")
	assert.False(t, ok)
}

func TestMemorySearchHonorsContext(t *testing.T) {
	m := seedMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Search(ctx, Request{Query: MatchAll()})
	assert.Error(t, err)
}

func TestMemoryManyDocsDefaultSize(t *testing.T) {
	m := NewMemory()
	var actions []BulkAction
	for i := 0; i < 25; i++ {
		actions = append(actions, BulkAction{
			Index: "idx",
			ID:    fmt.Sprintf("doc-%02d", i),
			Doc:   map[string]interface{}{"@timestamp": fmt.Sprintf("2026-01-15T10:30:%02dZ", i)},
		})
	}
	_, err := m.Bulk(context.Background(), actions)
	require.NoError(t, err)

	res, err := m.Search(context.Background(), Request{Query: MatchAll()})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Total)
	assert.Len(t, res.Hits, 10, "default page size")
}
