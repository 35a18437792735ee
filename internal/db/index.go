package db

import (
	"errors"
	"strconv"
	"strings"
)

// IDIndexName is the engine-managed primary key index; it is never reconciled.
const IDIndexName = "_id_"

// IndexKey is one field of an index with its direction.
type IndexKey struct {
	Field      string
	Descending bool
}

// IndexDefinition is a complete index definition as created or reported by the engine.
type IndexDefinition struct {
	Name   string
	Keys   []IndexKey
	Unique bool
}

// Validate checks that the index definition is well-formed.
func (idx *IndexDefinition) Validate() error {
	if len(idx.Keys) == 0 {
		return errors.New("at least one key is required")
	}

	seen := make(map[string]bool, len(idx.Keys))
	for i := range idx.Keys {
		f := idx.Keys[i].Field
		if f == "" {
			return errors.New("field name is required at index " + strconv.Itoa(i))
		}
		if strings.HasPrefix(f, "$") {
			return errors.New("field name must not start with '$': " + f)
		}
		if seen[f] {
			return errors.New("duplicate field name: " + f)
		}
		seen[f] = true
	}
	return nil
}

// Fields returns the ordered key field names.
func (idx *IndexDefinition) Fields() []string {
	out := make([]string, len(idx.Keys))
	for i := range idx.Keys {
		out[i] = idx.Keys[i].Field
	}
	return out
}

// SameFields reports whether both definitions index the same ordered fields,
// ignoring direction.
func (idx *IndexDefinition) SameFields(other *IndexDefinition) bool {
	if len(idx.Keys) != len(other.Keys) {
		return false
	}
	for i := range idx.Keys {
		if idx.Keys[i].Field != other.Keys[i].Field {
			return false
		}
	}
	return true
}

// String returns a debug representation resembling the engine key document.
func (idx *IndexDefinition) String() string {
	parts := make([]string, 0, len(idx.Keys))
	for _, k := range idx.Keys {
		dir := "1"
		if k.Descending {
			dir = "-1"
		}
		parts = append(parts, k.Field+":"+dir)
	}
	s := idx.Name + "{" + strings.Join(parts, ",") + "}"
	if idx.Unique {
		s += " unique"
	}
	return s
}
