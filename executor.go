package search

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Identifier is a (bag, title) pair, the unit of result Search yields; the
// caller is responsible for materializing the full document.
type Identifier struct {
	Bag   string
	Title string
}

// Engine runs search queries against a caller-supplied session. It owns no
// connections of its own -- the caller checks one out of the pool (via
// Instance.Connect) and hands it in as a Queryer.
type Engine struct {
	Options EngineOptions
}

func NewEngine(opts EngineOptions) *Engine {
	return &Engine{Options: opts}
}

// Search parses query, lowers it to a plan, executes the plan against db,
// and invokes fn once per matching identifier in the database's result
// order. Iteration is finite and non-restartable: once Search returns, the
// cursor backing it is closed, successfully or not. Any error -- a parse
// failure, a plan failure, a SQL execution failure, or an error returned
// by fn itself -- aborts iteration and rolls the cursor up.
func (e *Engine) Search(db Queryer, query string, fn func(Identifier) error) (err error) {
	spliced := spliceDefaultLimit(query, e.Options.SearchLimit)

	ast, perr := Parse(spliced)
	if perr != nil {
		return newParseError("failed to parse search query: %s", perr)
	}

	plan, perr := Produce(ast, e.Options.SearchLimit)
	if perr != nil {
		return newStoreError(perr, "failed to parse search query")
	}

	sqlText, args := plan.SQL()
	rows, qerr := db.Queryx(sqlText, args...)
	if qerr != nil {
		log.WithError(qerr).Debug("search query failed to execute")
		if isSyntaxError(qerr) {
			return newStoreError(qerr, "generated search SQL incorrect")
		}
		return newExecutionError(qerr, "search query failed")
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = newExecutionError(cerr, "failed to close search cursor")
		}
	}()

	cols, colErr := rows.Columns()
	if colErr != nil {
		return newExecutionError(colErr, "search query failed")
	}
	for rows.Next() {
		var id Identifier
		dest := []interface{}{&id.Bag, &id.Title}
		for len(dest) < len(cols) {
			dest = append(dest, new(interface{}))
		}
		if serr := rows.Scan(dest...); serr != nil {
			return newExecutionError(serr, "generated search SQL incorrect")
		}
		if ferr := fn(id); ferr != nil {
			return ferr
		}
	}
	if rerr := rows.Err(); rerr != nil {
		return newExecutionError(rerr, "search query failed")
	}
	return nil
}

// spliceDefaultLimit appends " _limit:N" to query before parsing, but only
// when the caller hasn't already specified one -- a caller-supplied
// _limit: term always wins over the configured default.
func spliceDefaultLimit(query string, defaultLimit int) string {
	trimmed := strings.TrimSpace(query)
	if strings.Contains(trimmed, "_limit:") {
		return trimmed
	}
	return trimmed + " _limit:" + strconv.Itoa(defaultLimit)
}
