// Package search runs full-text queries against the contact index.
package search

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/store"
)

// Searcher is the index the executor queries.
type Searcher interface {
	SearchContacts(ctx context.Context, text string, limit int) ([]model.Contact, error)
}

// Executor normalizes query text and runs it against a Searcher.
type Executor struct {
	index Searcher
	limit int
}

// NewExecutor creates an Executor. A non-positive limit uses
// store.DefaultSearchLimit.
func NewExecutor(index Searcher, limit int) *Executor {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	return &Executor{index: index, limit: limit}
}

// Normalize trims text and folds it to NFC so composed and decomposed
// spellings match the same index terms.
func Normalize(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

// Search returns the contacts matching text in relevance order. Blank text
// matches nothing and is not sent to the index. The result is never nil.
func (e *Executor) Search(ctx context.Context, text string) ([]model.Contact, error) {
	q := Normalize(text)
	if q == "" {
		return []model.Contact{}, nil
	}
	out, err := e.index.SearchContacts(ctx, q, e.limit)
	if err != nil {
		return nil, eris.Wrap(err, "search: query index")
	}
	if out == nil {
		out = []model.Contact{}
	}
	return out, nil
}
