package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nozzle/throttler"
)

// DocumentStore materializes a (bag, title) identifier into a full
// document. It is the index-query adapter's only external collaborator;
// the rest of this package never depends on it.
type DocumentStore interface {
	Get(bag, title string) (interface{}, error)
}

// IndexQuery converts filter into the query language, runs it through
// Search, and rehydrates each yielded identifier into a full document via
// store. Document fetches fan out concurrently, bounded the same way the
// teacher's own table-emptiness check bounds its per-table goroutines: a
// throttler capping in-flight work, with launching new fetches stopping
// as soon as one fails.
func (e *Engine) IndexQuery(db Queryer, store DocumentStore, filter map[string]string) ([]interface{}, error) {
	queryStr, err := buildIndexQuery(filter)
	if err != nil {
		return nil, err
	}

	var ids []Identifier
	if searchErr := e.Search(db, queryStr, func(id Identifier) error {
		ids = append(ids, id)
		return nil
	}); searchErr != nil {
		return nil, newFilterIndexRefused(searchErr, "error in the store")
	}

	docs := make([]interface{}, len(ids))
	th := throttler.New(15, len(ids))
	for i, id := range ids {
		go func(i int, id Identifier) {
			doc, err := store.Get(id.Bag, id.Title)
			if err == nil {
				docs[i] = doc
			}
			th.Done(err)
		}(i, id)
		if th.Throttle() > 0 {
			return nil, newFilterIndexRefused(th.Errs()[0], "error in the store")
		}
	}
	return docs, nil
}

// buildIndexQuery composes filter into the query-language string the
// adapter hands to Search: one `name:"value"` term per entry, joined by
// spaces, in a stable (sorted) order so the generated query is
// deterministic across runs with the same filter.
func buildIndexQuery(filter map[string]string) (string, error) {
	names := make([]string, 0, len(filter))
	for name := range filter {
		names = append(names, name)
	}
	sort.Strings(names)

	terms := make([]string, 0, len(names))
	for _, name := range names {
		value := filter[name]
		if strings.Contains(value, `"`) {
			return "", newFilterIndexRefused(nil, "unable to process values with quotes")
		}
		terms = append(terms, fmt.Sprintf("%s:\"%s\"", name, value))
	}
	return strings.Join(terms, " "), nil
}
