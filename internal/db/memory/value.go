package memory

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kailas-cloud/minq/internal/db"
)

// normalize converts an arbitrary Go value into the shape a stored document
// would decode to (int32/int64/float64, string, bson.A, bson.M, ...).
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return out["v"], nil
}

// cloneDoc returns a deep copy of doc.
func cloneDoc(doc db.Document) (db.Document, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var out db.Document
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return out, nil
}

// toFloat64 converts numeric values for comparison.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// compare orders two values of compatible types. ok is false when the
// values cannot be ordered against each other.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case primitive.DateTime:
		if y, ok := b.(primitive.DateTime); ok {
			return compareInt64(int64(x), int64(y)), true
		}
	case primitive.Timestamp:
		if y, ok := b.(primitive.Timestamp); ok {
			return primitive.CompareTimestamp(x, y), true
		}
	case primitive.ObjectID:
		if y, ok := b.(primitive.ObjectID); ok {
			return strings.Compare(x.Hex(), y.Hex()), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// sortRank orders values of different types in sorts: missing/null first,
// then numbers, strings, documents, arrays, everything else.
func sortRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int32, int64, float64, int:
		return 1
	case string:
		return 2
	case bson.M, bson.D:
		return 3
	case bson.A:
		return 4
	case bool:
		return 6
	case primitive.DateTime:
		return 7
	default:
		return 5
	}
}

func sortCompare(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return compareInt64(int64(ra), int64(rb))
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// resolve returns every value reachable at path. Arrays on the way are
// traversed element-wise, or by position when the segment is numeric.
func resolve(v any, parts []string) []any {
	if len(parts) == 0 {
		return []any{v}
	}
	switch t := v.(type) {
	case bson.M:
		child, ok := t[parts[0]]
		if !ok {
			return nil
		}
		return resolve(child, parts[1:])
	case bson.D:
		for _, e := range t {
			if e.Key == parts[0] {
				return resolve(e.Value, parts[1:])
			}
		}
		return nil
	case bson.A:
		if i, err := strconv.Atoi(parts[0]); err == nil {
			if i >= 0 && i < len(t) {
				return resolve(t[i], parts[1:])
			}
			return nil
		}
		var out []any
		for _, elem := range t {
			out = append(out, resolve(elem, parts)...)
		}
		return out
	default:
		return nil
	}
}

// lookup resolves a dotted path on a document.
func lookup(doc db.Document, path string) []any {
	return resolve(doc, strings.Split(path, "."))
}

// expand adds array elements next to the arrays themselves so scalar
// operators match arrays containing the operand.
func expand(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
		if arr, ok := v.(bson.A); ok {
			out = append(out, arr...)
		}
	}
	return out
}

// getPath reads a dotted path without array traversal.
func getPath(doc db.Document, path string) (any, bool) {
	var cur any = doc
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes a dotted path, creating intermediate documents.
func setPath(doc db.Document, path string, v any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next == nil {
			m := bson.M{}
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(bson.M)
		if !ok {
			return fmt.Errorf("cannot create field %q in element {%s: %v}", parts[len(parts)-1], p, next)
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

// unsetPath removes a dotted path. Missing paths are ignored.
func unsetPath(doc db.Document, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		m, ok := cur[p].(bson.M)
		if !ok {
			return
		}
		cur = m
	}
	delete(cur, parts[len(parts)-1])
}
