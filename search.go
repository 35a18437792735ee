package minq

import (
	"context"
	"strings"
)

// SearchLimit caps the number of documents Search returns.
const SearchLimit = 1000

// Search returns up to SearchLimit documents whose searchable fields contain
// term, case-insensitively. Results are unranked. An empty term returns no
// documents without querying.
func (m *Minq[T]) Search(ctx context.Context, term string) ([]T, error) {
	if strings.TrimSpace(term) == "" {
		return []T{}, nil
	}
	if len(m.searchFields) == 0 {
		return nil, configError("model of collection %s has no searchable fields", m.name)
	}
	return m.searchRequest(term).ToList(ctx)
}

func (m *Minq[T]) searchRequest(term string) *RequestChain[T] {
	fields := m.searchFields
	return m.Where(func(c *FilterChain) {
		if len(fields) == 1 {
			c.ContainsSubstring(fields[0], term)
			return
		}
		c.Or(func(or *FilterChain) {
			for _, f := range fields {
				or.ContainsSubstring(f, term)
			}
		})
	}).Limit(SearchLimit)
}
