package pg

import (
	"fmt"
	"strconv"
	"strings"
)

// clauses accumulates sql expressions whose "?" placeholders are numbered ($1, $2...) in order of insertion
type clauses struct {
	params []interface{}
	exprs  []string
}

func (c *clauses) add(expr string, params ...interface{}) {
	var sb strings.Builder
	for _, part := range strings.SplitAfter(expr, "?") {
		if !strings.HasSuffix(part, "?") {
			sb.WriteString(part)
			continue
		}
		c.params = append(c.params, params[0])
		params = params[1:]
		sb.WriteString(part[:len(part)-1] + "$" + strconv.Itoa(len(c.params)))
	}
	c.exprs = append(c.exprs, sb.String())
}

func (c clauses) join(prefix, sep string) string {
	if len(c.exprs) == 0 {
		return ""
	}
	return prefix + strings.Join(c.exprs, sep)
}

func limitOffsetClause(page, limit int) string {
	switch {
	case limit <= 0:
		return ""
	case page <= 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page*limit)
}

// parseLike converts a job id pattern to a LIKE pattern and returns the operator to use (=, LIKE or ILIKE).
// "*" matches any sequence, "?" any character, a "(?i)" suffix makes the match case-insensitive.
func parseLike(pattern string) (string, string) {
	pattern, insensitive := strings.CutSuffix(pattern, "(?i)")
	like := strings.NewReplacer("_", `\_`, "%", `\%`, "*", "%", "?", "_").Replace(pattern)
	switch {
	case insensitive:
		return like, "ILIKE"
	case strings.ContainsAny(pattern, "*?"):
		return like, "LIKE"
	}
	return pattern, "="
}
