package memory

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kailas-cloud/minq/internal/db"
)

// matcher evaluates predicate trees against documents. Operands are
// normalized once per condition and regular expressions compiled once.
type matcher struct {
	mu       sync.Mutex
	operands map[*db.Condition]any
	regexes  map[*db.Condition]*regexp.Regexp
}

func newMatcher() *matcher {
	return &matcher{
		operands: make(map[*db.Condition]any),
		regexes:  make(map[*db.Condition]*regexp.Regexp),
	}
}

// matches reports whether doc satisfies f.
func (m *matcher) matches(doc db.Document, f db.Filter) (bool, error) {
	switch n := f.(type) {
	case nil, db.MatchAll:
		return true, nil
	case *db.Group:
		return m.matchGroup(doc, n)
	case *db.Condition:
		ok, err := m.matchCondition(doc, n)
		if err != nil {
			return false, err
		}
		if n.Negate {
			return !ok, nil
		}
		return ok, nil
	default:
		return false, fmt.Errorf("unknown filter node %T", f)
	}
}

func (m *matcher) matchGroup(doc db.Document, g *db.Group) (bool, error) {
	for _, c := range g.Children {
		ok, err := m.matches(doc, c)
		if err != nil {
			return false, err
		}
		switch g.Logic {
		case db.LogicAnd:
			if !ok {
				return false, nil
			}
		case db.LogicOr:
			if ok {
				return true, nil
			}
		case db.LogicNot:
			if ok {
				return false, nil
			}
		}
	}
	switch g.Logic {
	case db.LogicOr:
		return len(g.Children) == 0, nil
	default:
		return true, nil
	}
}

func (m *matcher) matchCondition(doc db.Document, c *db.Condition) (bool, error) {
	raw := lookup(doc, c.Field)
	values := expand(raw)

	switch c.Op {
	case db.OpExists:
		want, _ := c.Value.(bool)
		return (len(raw) > 0) == want, nil
	case db.OpRegex:
		re, err := m.regex(c)
		if err != nil {
			return false, err
		}
		for _, v := range values {
			if s, ok := v.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	case db.OpMod:
		mod, _ := c.Value.(db.Mod)
		if mod.Divisor == 0 {
			return false, fmt.Errorf("divisor cannot be 0")
		}
		for _, v := range values {
			if f, ok := toFloat64(v); ok && int64(f)%mod.Divisor == mod.Remainder {
				return true, nil
			}
		}
		return false, nil
	case db.OpElemMatch:
		for _, v := range raw {
			arr, ok := v.(bson.A)
			if !ok {
				continue
			}
			for _, elem := range arr {
				sub, ok := elem.(bson.M)
				if !ok {
					continue
				}
				hit, err := m.matches(sub, c.Sub)
				if err != nil {
					return false, err
				}
				if hit {
					return true, nil
				}
			}
		}
		return false, nil
	}

	operand, err := m.operand(c)
	if err != nil {
		return false, err
	}

	switch c.Op {
	case db.OpEq:
		return matchEq(raw, values, operand), nil
	case db.OpNe:
		return !matchEq(raw, values, operand), nil
	case db.OpGt, db.OpGte, db.OpLt, db.OpLte:
		for _, v := range values {
			cmp, ok := compare(v, operand)
			if !ok {
				continue
			}
			if rangeHolds(c.Op, cmp) {
				return true, nil
			}
		}
		return false, nil
	case db.OpIn, db.OpNin:
		items, ok := operand.(bson.A)
		if !ok {
			return false, fmt.Errorf("%s needs an array", c.Op)
		}
		in := false
		for _, item := range items {
			if matchEq(raw, values, item) {
				in = true
				break
			}
		}
		if c.Op == db.OpNin {
			return !in, nil
		}
		return in, nil
	case db.OpAll:
		items, ok := operand.(bson.A)
		if !ok {
			return false, fmt.Errorf("%s needs an array", c.Op)
		}
		if len(items) == 0 {
			return false, nil
		}
		for _, item := range items {
			if !matchEq(raw, values, item) {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", c.Op)
	}
}

// matchEq treats a null operand as "missing or null".
func matchEq(raw, values []any, operand any) bool {
	if operand == nil && len(raw) == 0 {
		return true
	}
	for _, v := range values {
		if equal(v, operand) {
			return true
		}
	}
	return false
}

func rangeHolds(op db.Operator, cmp int) bool {
	switch op {
	case db.OpGt:
		return cmp > 0
	case db.OpGte:
		return cmp >= 0
	case db.OpLt:
		return cmp < 0
	default:
		return cmp <= 0
	}
}

func (m *matcher) operand(c *db.Condition) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.operands[c]; ok {
		return v, nil
	}
	v, err := normalize(c.Value)
	if err != nil {
		return nil, err
	}
	m.operands[c] = v
	return v, nil
}

func (m *matcher) regex(c *db.Condition) (*regexp.Regexp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.regexes[c]; ok {
		return re, nil
	}
	r, _ := c.Value.(db.Regex)
	pattern := r.Pattern
	if flags := regexFlags(r.Options); flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile regex %q: %w", r.Pattern, err)
	}
	m.regexes[c] = re
	return re, nil
}

func regexFlags(options string) string {
	var b strings.Builder
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			b.WriteRune(o)
		}
	}
	return b.String()
}
