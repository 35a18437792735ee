package minq

import (
	"strings"

	"github.com/kailas-cloud/minq/internal/db"
)

// AutoIndexPrefix starts the names the layer generates for unnamed indexes.
// Declared names must not use it.
const AutoIndexPrefix = "minq_"

// Index is a declared index: ordered keys, uniqueness and an optional name.
// Two indexes are equivalent when they cover the same ordered field names;
// direction is ignored.
type Index struct {
	name   string
	keys   []db.IndexKey
	unique bool
}

// Name returns the declared name, empty for auto-named indexes.
func (i Index) Name() string { return i.name }

// Unique reports whether the index enforces uniqueness.
func (i Index) Unique() bool { return i.unique }

// Fields returns the ordered key field names.
func (i Index) Fields() []Field {
	out := make([]Field, len(i.keys))
	for j, k := range i.keys {
		out[j] = Field(k.Field)
	}
	return out
}

func (i Index) definition() *db.IndexDefinition {
	return &db.IndexDefinition{
		Name:   i.name,
		Keys:   append([]db.IndexKey(nil), i.keys...),
		Unique: i.unique,
	}
}

// Equivalent reports whether both indexes cover the same ordered fields.
func (i Index) Equivalent(other Index) bool {
	return i.definition().SameFields(other.definition())
}

// covers reports whether fields are a prefix-covered set of the index keys.
func (i Index) covers(fields []Field) bool {
	if len(fields) > len(i.keys) {
		return false
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[string(f)] = true
	}
	for _, k := range i.keys[:len(fields)] {
		if !want[k.Field] {
			return false
		}
	}
	return true
}

// String returns a debug representation resembling the engine key document.
func (i Index) String() string {
	return i.definition().String()
}

// IndexChain is a fluent builder for index declarations.
type IndexChain struct {
	idx Index
}

// NewIndex starts building an index declaration.
func NewIndex() *IndexChain {
	return &IndexChain{}
}

// Ascending adds ascending keys in call order.
func (c *IndexChain) Ascending(fields ...Field) *IndexChain {
	for _, f := range fields {
		c.idx.keys = append(c.idx.keys, db.IndexKey{Field: string(f)})
	}
	return c
}

// Descending adds descending keys in call order.
func (c *IndexChain) Descending(fields ...Field) *IndexChain {
	for _, f := range fields {
		c.idx.keys = append(c.idx.keys, db.IndexKey{Field: string(f), Descending: true})
	}
	return c
}

// Unique makes the index enforce uniqueness.
func (c *IndexChain) Unique() *IndexChain {
	c.idx.unique = true
	return c
}

// Named sets an explicit index name.
func (c *IndexChain) Named(name string) *IndexChain {
	c.idx.name = name
	return c
}

// Build validates and returns the declaration.
func (c *IndexChain) Build() (Index, error) {
	if err := c.idx.definition().Validate(); err != nil {
		return Index{}, invalidQuery("index %s: %v", c.idx, err)
	}
	if strings.HasPrefix(c.idx.name, AutoIndexPrefix) {
		return Index{}, invalidQuery("index name %q uses the reserved prefix %q", c.idx.name, AutoIndexPrefix)
	}
	if c.idx.name == db.IDIndexName {
		return Index{}, invalidQuery("index name %q is reserved", c.idx.name)
	}
	out := c.idx
	out.keys = append([]db.IndexKey(nil), c.idx.keys...)
	return out, nil
}

// MustBuild calls Build and panics on error.
func (c *IndexChain) MustBuild() Index {
	idx, err := c.Build()
	if err != nil {
		panic(err)
	}
	return idx
}
