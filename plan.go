package search

import (
	"fmt"
	"strings"
)

// Plan is the relational rendering of a parsed query, ready to bind against
// a live connection. It is built exclusively by Produce; callers only ever
// call SQL on it.
type Plan struct {
	Joins    []string
	JoinArgs []interface{}

	SelectExtra     []string
	SelectExtraArgs []interface{}

	Where     string
	WhereArgs []interface{}

	Having     string
	HavingArgs []interface{}

	OrderBy string
	Limit   int
}

// SQL renders the plan into a single parameterized statement plus its
// positional arguments, in the same left-to-right order their placeholders
// appear in the statement text.
func (pl *Plan) SQL() (string, []interface{}) {
	cols := append([]string{"t.bag", "t.title"}, pl.SelectExtra...)

	var sb strings.Builder
	sb.WriteString("SELECT DISTINCT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM tiddler t ")
	sb.WriteString(strings.Join(pl.Joins, " "))
	sb.WriteString(" WHERE ")
	sb.WriteString(pl.Where)
	if pl.Having != "" {
		sb.WriteString(" HAVING ")
		sb.WriteString(pl.Having)
	}
	if pl.OrderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(pl.OrderBy)
	}
	fmt.Fprintf(&sb, " LIMIT %d", pl.Limit)

	args := make([]interface{}, 0, len(pl.SelectExtraArgs)+len(pl.JoinArgs)+len(pl.WhereArgs)+len(pl.HavingArgs))
	args = append(args, pl.SelectExtraArgs...)
	args = append(args, pl.JoinArgs...)
	args = append(args, pl.WhereArgs...)
	args = append(args, pl.HavingArgs...)

	return sb.String(), args
}
