package minq

import "github.com/kailas-cloud/minq/internal/db"

// SortChain orders results by one or more fields, in call order.
type SortChain struct {
	keys []db.SortKey
}

// Ascending appends ascending keys.
func (c *SortChain) Ascending(fields ...Field) *SortChain {
	for _, f := range fields {
		c.keys = append(c.keys, db.SortKey{Field: string(f)})
	}
	return c
}

// Descending appends descending keys.
func (c *SortChain) Descending(fields ...Field) *SortChain {
	for _, f := range fields {
		c.keys = append(c.keys, db.SortKey{Field: string(f), Descending: true})
	}
	return c
}
