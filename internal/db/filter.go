package db

// Operator is a leaf comparison operator.
type Operator string

// Leaf operators, named after their engine spelling.
const (
	OpEq        Operator = "$eq"
	OpNe        Operator = "$ne"
	OpGt        Operator = "$gt"
	OpGte       Operator = "$gte"
	OpLt        Operator = "$lt"
	OpLte       Operator = "$lte"
	OpIn        Operator = "$in"
	OpNin       Operator = "$nin"
	OpAll       Operator = "$all"
	OpExists    Operator = "$exists"
	OpMod       Operator = "$mod"
	OpRegex     Operator = "$regex"
	OpElemMatch Operator = "$elemMatch"
)

// Logic combines child predicates.
type Logic string

const (
	// LogicAnd matches when every child matches.
	LogicAnd Logic = "$and"
	// LogicOr matches when any child matches.
	LogicOr Logic = "$or"
	// LogicNot matches when no child matches (rendered as $nor).
	LogicNot Logic = "$nor"
)

// Filter is a node of a predicate tree: *Condition, *Group or MatchAll.
type Filter interface {
	filterNode()
}

// MatchAll matches every document.
type MatchAll struct{}

func (MatchAll) filterNode() {}

// Condition is a leaf predicate over one field.
type Condition struct {
	Field string
	Op    Operator
	Value any
	// Negate wraps the operator in $not.
	Negate bool
	// Sub is the nested predicate of an OpElemMatch condition.
	Sub Filter
}

func (*Condition) filterNode() {}

// Group combines children with one Logic.
type Group struct {
	Logic    Logic
	Children []Filter
}

func (*Group) filterNode() {}

// Regex is the operand of an OpRegex condition.
type Regex struct {
	Pattern string
	Options string
}

// Mod is the operand of an OpMod condition.
type Mod struct {
	Divisor   int64
	Remainder int64
}

// Eq is a shorthand for an equality condition.
func Eq(field string, value any) *Condition {
	return &Condition{Field: field, Op: OpEq, Value: value}
}

// And combines filters, collapsing the trivial cases.
func And(filters ...Filter) Filter {
	switch len(filters) {
	case 0:
		return MatchAll{}
	case 1:
		return filters[0]
	default:
		return &Group{Logic: LogicAnd, Children: filters}
	}
}

// IsMatchAll reports whether f matches every document.
func IsMatchAll(f Filter) bool {
	if f == nil {
		return true
	}
	_, ok := f.(MatchAll)
	return ok
}
