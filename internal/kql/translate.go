package kql

import (
	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/search"
)

// Translate parses a KQL-lite query and converts it to search DSL. Malformed
// expressions fall back to a query_string query so user input never hard-fails
// a rule run.
func Translate(query string) search.Query {
	expr, err := Parse(query)
	if err != nil {
		log.Debug().Str("query", query).Err(err).Msg("KQL parse failed, falling back to query_string")
		return search.QueryString(query)
	}
	return ToDSL(expr)
}

// ToDSL converts a parsed expression to search DSL.
func ToDSL(expr Expr) search.Query {
	switch e := expr.(type) {
	case *MatchAllExpr:
		return search.MatchAll()
	case *NotExpr:
		return search.Query{
			"bool": map[string]interface{}{
				"must_not": []interface{}{map[string]interface{}(ToDSL(e.Expr))},
			},
		}
	case *BoolExpr:
		clauses := make([]interface{}, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			clauses = append(clauses, map[string]interface{}(ToDSL(sub)))
		}
		if e.Op == "or" {
			return search.Query{
				"bool": map[string]interface{}{
					"should":               clauses,
					"minimum_should_match": 1,
				},
			}
		}
		return search.Query{"bool": map[string]interface{}{"must": clauses}}
	case *Comparison:
		return comparisonToDSL(e)
	}
	return search.MatchAll()
}

func comparisonToDSL(c *Comparison) search.Query {
	switch c.Op {
	case "==":
		return search.Term(c.Field, c.Value)
	case "!=":
		return search.Query{
			"bool": map[string]interface{}{
				"must_not": []interface{}{
					map[string]interface{}(search.Term(c.Field, c.Value)),
				},
			},
		}
	case "contains", "has":
		return search.Query{"match": map[string]interface{}{c.Field: c.Value}}
	case "startswith":
		return search.Query{"prefix": map[string]interface{}{c.Field: c.Value}}
	case "endswith":
		return search.Query{"wildcard": map[string]interface{}{c.Field: "*" + stringifyValue(c.Value)}}
	case "in":
		return search.Terms(c.Field, c.Values)
	case ">", ">=", "<", "<=":
		op := map[string]string{">": "gt", ">=": "gte", "<": "lt", "<=": "lte"}[c.Op]
		return search.Query{
			"range": map[string]interface{}{
				c.Field: map[string]interface{}{op: c.Value},
			},
		}
	}
	return search.MatchAll()
}

func stringifyValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return search.Stringify(v)
}
