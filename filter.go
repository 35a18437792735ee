package minq

import (
	"reflect"
	"regexp"

	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

// Weight hints recorded per field for index suggestions. Lower sorts first.
const (
	weightEquality   = -1
	weightMembership = 0
	weightRange      = 1
	weightPattern    = 2
)

// FieldWeight is the accumulated index-suggestion weight of one field.
type FieldWeight struct {
	Field  Field
	Weight int
}

// weights accumulates per-field weights in first-seen order. Sub-chains
// share their parent's accumulator.
type weights struct {
	order  []Field
	values map[Field]int
}

func newWeights() *weights {
	return &weights{values: make(map[Field]int)}
}

func (w *weights) add(f Field, weight int) {
	if _, ok := w.values[f]; !ok {
		w.order = append(w.order, f)
	}
	w.values[f] += weight
}

func (w *weights) list() []FieldWeight {
	out := make([]FieldWeight, len(w.order))
	for i, f := range w.order {
		out[i] = FieldWeight{Field: f, Weight: w.values[f]}
	}
	return out
}

// FilterChain builds a predicate. Top-level predicates are combined with AND;
// And/Or/Not nest an independent sub-chain as one node.
type FilterChain struct {
	nodes         []db.Filter
	weights       *weights
	prefix        Field
	caseSensitive bool
	logger        *zap.Logger
	err           error
}

// NewFilter returns an empty chain. An empty chain matches every document.
func NewFilter() *FilterChain {
	return newFilterChain(zap.NewNop(), newWeights(), "")
}

func newFilterChain(logger *zap.Logger, w *weights, prefix Field) *FilterChain {
	return &FilterChain{logger: logger, weights: w, prefix: prefix}
}

// sub returns a child chain sharing the accumulator and case option.
func (c *FilterChain) sub(prefix Field) *FilterChain {
	s := newFilterChain(c.logger, c.weights, prefix)
	s.caseSensitive = c.caseSensitive
	return s
}

// CaseSensitive makes subsequent substring predicates case-sensitive.
func (c *FilterChain) CaseSensitive() *FilterChain {
	c.caseSensitive = true
	return c
}

func (c *FilterChain) fail(err error) *FilterChain {
	if c.err == nil {
		c.err = err
	}
	return c
}

func (c *FilterChain) record(f Field, weight int) {
	if c.prefix != "" {
		f = c.prefix.Dot(f)
	}
	c.weights.add(f, weight)
}

func (c *FilterChain) leaf(f Field, op db.Operator, value any, weight int) *FilterChain {
	if f == "" {
		return c.fail(invalidQuery("field name is required for %s", op))
	}
	c.record(f, weight)
	c.nodes = append(c.nodes, &db.Condition{Field: string(f), Op: op, Value: value})
	return c
}

func (c *FilterChain) negatedLeaf(f Field, op db.Operator, value any, weight int) *FilterChain {
	c.leaf(f, op, value, weight)
	if c.err == nil {
		c.nodes[len(c.nodes)-1].(*db.Condition).Negate = true
	}
	return c
}

// EqualTo matches documents whose field equals value.
func (c *FilterChain) EqualTo(f Field, value any) *FilterChain {
	return c.leaf(f, db.OpEq, value, weightEquality)
}

// NotEqualTo matches documents whose field differs from value or is missing.
func (c *FilterChain) NotEqualTo(f Field, value any) *FilterChain {
	return c.leaf(f, db.OpNe, value, weightPattern)
}

// GreaterThan matches documents whose field is greater than value.
func (c *FilterChain) GreaterThan(f Field, value any) *FilterChain {
	return c.leaf(f, db.OpGt, value, weightRange)
}

// GreaterThanOrEqualTo matches documents whose field is at least value.
func (c *FilterChain) GreaterThanOrEqualTo(f Field, value any) *FilterChain {
	return c.leaf(f, db.OpGte, value, weightRange)
}

// LessThan matches documents whose field is less than value.
func (c *FilterChain) LessThan(f Field, value any) *FilterChain {
	return c.leaf(f, db.OpLt, value, weightRange)
}

// LessThanOrEqualTo matches documents whose field is at most value.
func (c *FilterChain) LessThanOrEqualTo(f Field, value any) *FilterChain {
	return c.leaf(f, db.OpLte, value, weightRange)
}

// ContainedIn matches documents whose field equals one of values.
// A single slice argument is expanded.
func (c *FilterChain) ContainedIn(f Field, values ...any) *FilterChain {
	return c.leaf(f, db.OpIn, flatten(values), weightMembership)
}

// NotContainedIn matches documents whose field equals none of values.
func (c *FilterChain) NotContainedIn(f Field, values ...any) *FilterChain {
	return c.leaf(f, db.OpNin, flatten(values), weightPattern)
}

// Contains matches documents whose array field holds every one of items.
func (c *FilterChain) Contains(f Field, items ...any) *FilterChain {
	return c.leaf(f, db.OpAll, flatten(items), weightMembership)
}

// DoesNotContain matches documents whose array field holds none of items.
func (c *FilterChain) DoesNotContain(f Field, items ...any) *FilterChain {
	return c.leaf(f, db.OpNin, flatten(items), weightPattern)
}

// ContainsSubstring matches string fields containing s literally.
func (c *FilterChain) ContainsSubstring(f Field, s string) *FilterChain {
	return c.leaf(f, db.OpRegex, c.regex(regexp.QuoteMeta(s)), weightPattern)
}

// StartsWith matches string fields with the literal prefix s.
func (c *FilterChain) StartsWith(f Field, s string) *FilterChain {
	return c.leaf(f, db.OpRegex, c.regex("^"+regexp.QuoteMeta(s)), weightPattern)
}

// EndsWith matches string fields with the literal suffix s.
func (c *FilterChain) EndsWith(f Field, s string) *FilterChain {
	return c.leaf(f, db.OpRegex, c.regex(regexp.QuoteMeta(s)+"$"), weightPattern)
}

// DoesNotContainSubstring matches fields that do not contain s.
func (c *FilterChain) DoesNotContainSubstring(f Field, s string) *FilterChain {
	return c.negatedLeaf(f, db.OpRegex, c.regex(regexp.QuoteMeta(s)), weightPattern)
}

func (c *FilterChain) regex(pattern string) db.Regex {
	r := db.Regex{Pattern: pattern}
	if !c.caseSensitive {
		r.Options = "i"
	}
	return r
}

// FieldExists matches documents that have the field, even when it is null.
func (c *FilterChain) FieldExists(f Field) *FilterChain {
	return c.leaf(f, db.OpExists, true, weightPattern)
}

// FieldDoesNotExist matches documents missing the field.
func (c *FilterChain) FieldDoesNotExist(f Field) *FilterChain {
	return c.leaf(f, db.OpExists, false, weightPattern)
}

// Mod matches numeric fields where field % divisor == remainder.
func (c *FilterChain) Mod(f Field, divisor, remainder int64) *FilterChain {
	if divisor == 0 {
		return c.fail(invalidQuery("mod divisor must not be zero for field %s", f))
	}
	return c.leaf(f, db.OpMod, db.Mod{Divisor: divisor, Remainder: remainder}, weightRange)
}

// Where matches documents whose array field has an element satisfying the
// nested predicate. Nested fields are relative to the element.
func (c *FilterChain) Where(f Field, build func(*FilterChain)) *FilterChain {
	if f == "" {
		return c.fail(invalidQuery("field name is required for %s", db.OpElemMatch))
	}
	prefix := f
	if c.prefix != "" {
		prefix = c.prefix.Dot(f)
	}
	s := c.sub(prefix)
	build(s)
	if s.err != nil {
		return c.fail(s.err)
	}
	c.nodes = append(c.nodes, &db.Condition{Field: string(f), Op: db.OpElemMatch, Sub: s.node()})
	return c
}

// And nests an AND of the sub-chain's predicates.
func (c *FilterChain) And(build func(*FilterChain)) *FilterChain {
	return c.group(db.LogicAnd, build)
}

// Or nests an OR of the sub-chain's predicates.
func (c *FilterChain) Or(build func(*FilterChain)) *FilterChain {
	return c.group(db.LogicOr, build)
}

// Not nests the negation of the sub-chain's predicates taken together.
func (c *FilterChain) Not(build func(*FilterChain)) *FilterChain {
	s := c.sub(c.prefix)
	build(s)
	if s.err != nil {
		return c.fail(s.err)
	}
	if n := negate(s.nodes); n != nil {
		c.nodes = append(c.nodes, n)
	}
	return c
}

func (c *FilterChain) group(logic db.Logic, build func(*FilterChain)) *FilterChain {
	s := c.sub(c.prefix)
	build(s)
	if s.err != nil {
		return c.fail(s.err)
	}
	switch len(s.nodes) {
	case 0:
		c.logger.Warn("Combinator with no predicates matches everything", zap.String("logic", string(logic)))
	case 1:
		c.logger.Warn("Combinator with a single predicate is passed through", zap.String("logic", string(logic)))
		c.nodes = append(c.nodes, s.nodes[0])
	default:
		c.nodes = append(c.nodes, &db.Group{Logic: logic, Children: s.nodes})
	}
	return c
}

// negate specializes NOT: one leaf flips its own negation, one group becomes
// NOR(group), several predicates become NOR(AND(...)).
func negate(nodes []db.Filter) db.Filter {
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		if cond, ok := nodes[0].(*db.Condition); ok {
			flipped := *cond
			flipped.Negate = !cond.Negate
			return &flipped
		}
		return &db.Group{Logic: db.LogicNot, Children: nodes}
	default:
		return &db.Group{Logic: db.LogicNot, Children: []db.Filter{
			&db.Group{Logic: db.LogicAnd, Children: nodes},
		}}
	}
}

func (c *FilterChain) node() db.Filter {
	return db.And(c.nodes...)
}

// Build returns the immutable definition, or the first builder error.
func (c *FilterChain) Build() (FilterDefinition, error) {
	if c.err != nil {
		return FilterDefinition{}, c.err
	}
	return FilterDefinition{filter: c.node(), weights: c.weights.list()}, nil
}

// MustBuild is Build for statically known chains. It panics on error.
func (c *FilterChain) MustBuild() FilterDefinition {
	def, err := c.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// FilterDefinition is a built predicate with its field weights.
type FilterDefinition struct {
	filter  db.Filter
	weights []FieldWeight
}

// IsEmpty reports whether the definition matches every document.
func (d FilterDefinition) IsEmpty() bool {
	return db.IsMatchAll(d.filter)
}

// Weights returns the accumulated field weights in first-seen order.
func (d FilterDefinition) Weights() []FieldWeight {
	return append([]FieldWeight(nil), d.weights...)
}

// SuggestedIndex orders the filtered fields by ascending weight, first-seen
// order breaking ties. ok is false for an empty filter.
func (d FilterDefinition) SuggestedIndex() (Index, bool) {
	if len(d.weights) == 0 {
		return Index{}, false
	}
	ordered := d.Weights()
	// Insertion sort keeps ties stable and the lists are short.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Weight < ordered[j-1].Weight; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	keys := make([]db.IndexKey, len(ordered))
	for i, w := range ordered {
		keys[i] = db.IndexKey{Field: string(w.Field)}
	}
	return Index{keys: keys}, true
}

// Canonical renders the filter as canonical extended JSON. Equal predicates
// render to equal strings; the result cache keys on it.
func (d FilterDefinition) Canonical() (string, error) {
	return db.CanonicalString(d.filter)
}

func (d FilterDefinition) String() string {
	s, err := d.Canonical()
	if err != nil {
		return "<invalid filter: " + err.Error() + ">"
	}
	return s
}

// flatten expands a single slice argument into its elements.
func flatten(values []any) []any {
	if len(values) != 1 || values[0] == nil {
		return values
	}
	v := reflect.ValueOf(values[0])
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return values
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return values
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}
