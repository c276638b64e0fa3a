package search

import "time"

// TimeRange builds a range filter on @timestamp covering [from, to].
func TimeRange(from, to time.Time) Query {
	return Query{
		"range": map[string]interface{}{
			"@timestamp": map[string]interface{}{
				"gte": from.UTC().Format(time.RFC3339Nano),
				"lte": to.UTC().Format(time.RFC3339Nano),
			},
		},
	}
}

// And combines queries with a bool/must.
func And(queries ...Query) Query {
	must := make([]interface{}, 0, len(queries))
	for _, q := range queries {
		if q != nil {
			must = append(must, map[string]interface{}(q))
		}
	}
	if len(must) == 1 {
		return Query(must[0].(map[string]interface{}))
	}
	return Query{"bool": map[string]interface{}{"must": must}}
}

// Term builds an exact-match term query.
func Term(field string, value interface{}) Query {
	return Query{"term": map[string]interface{}{field: value}}
}

// Terms builds a membership query.
func Terms(field string, values []interface{}) Query {
	return Query{"terms": map[string]interface{}{field: values}}
}

// QueryString builds a query_string fallback query.
func QueryString(q string) Query {
	return Query{"query_string": map[string]interface{}{"query": q}}
}
