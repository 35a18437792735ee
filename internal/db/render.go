package db

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RenderFilter converts a predicate tree into an engine filter document.
func RenderFilter(f Filter) bson.D {
	switch n := f.(type) {
	case nil, MatchAll:
		return bson.D{}
	case *Condition:
		return bson.D{{Key: n.Field, Value: renderOperand(n)}}
	case *Group:
		if len(n.Children) == 0 {
			return bson.D{}
		}
		if len(n.Children) == 1 && n.Logic != LogicNot {
			return RenderFilter(n.Children[0])
		}
		arr := make(bson.A, 0, len(n.Children))
		for _, c := range n.Children {
			arr = append(arr, RenderFilter(c))
		}
		return bson.D{{Key: string(n.Logic), Value: arr}}
	default:
		panic(fmt.Sprintf("db: unknown filter node %T", f))
	}
}

func renderOperand(c *Condition) any {
	var expr bson.D
	switch c.Op {
	case OpRegex:
		r, _ := c.Value.(Regex)
		if c.Negate {
			// $not takes a regex object rather than an operator document.
			return bson.D{{Key: "$not", Value: primitive.Regex{Pattern: r.Pattern, Options: r.Options}}}
		}
		expr = bson.D{{Key: "$regex", Value: r.Pattern}}
		if r.Options != "" {
			expr = append(expr, bson.E{Key: "$options", Value: r.Options})
		}
		return expr
	case OpElemMatch:
		expr = bson.D{{Key: string(OpElemMatch), Value: RenderFilter(c.Sub)}}
	case OpMod:
		m, _ := c.Value.(Mod)
		expr = bson.D{{Key: string(OpMod), Value: bson.A{m.Divisor, m.Remainder}}}
	default:
		expr = bson.D{{Key: string(c.Op), Value: c.Value}}
	}
	if c.Negate {
		return bson.D{{Key: "$not", Value: expr}}
	}
	return expr
}

// CanonicalString renders f as canonical extended JSON. Equal trees built in
// the same order always render to the same string.
func CanonicalString(f Filter) (string, error) {
	b, err := bson.MarshalExtJSON(RenderFilter(f), true, false)
	if err != nil {
		return "", fmt.Errorf("render filter: %w", err)
	}
	return string(b), nil
}

// RenderUpdate groups ops by operator, keeping the order of first appearance.
// Repeated fields are kept as-is so the engine can report the conflict.
func RenderUpdate(u Update) bson.D {
	var order []UpdateKind
	groups := make(map[UpdateKind]bson.D)
	for i := range u.Ops {
		op := &u.Ops[i]
		if _, ok := groups[op.Kind]; !ok {
			order = append(order, op.Kind)
		}
		groups[op.Kind] = append(groups[op.Kind], bson.E{Key: op.Field, Value: renderUpdateValue(op)})
	}

	out := make(bson.D, 0, len(order))
	for _, k := range order {
		out = append(out, bson.E{Key: string(k), Value: groups[k]})
	}
	return out
}

func renderUpdateValue(op *UpdateOp) any {
	switch op.Kind {
	case UpdateUnset:
		return ""
	case UpdateBit:
		return bson.D{{Key: string(op.Bit), Value: op.Value}}
	case UpdatePush:
		d := bson.D{{Key: "$each", Value: op.Value}}
		if op.Slice > 0 {
			d = append(d, bson.E{Key: "$slice", Value: -op.Slice})
		}
		return d
	case UpdateAddToSet:
		return bson.D{{Key: "$each", Value: op.Value}}
	case UpdatePop:
		return op.Pop
	case UpdatePull:
		return RenderFilter(op.Sub)
	default:
		return op.Value
	}
}

// RenderSort converts sort keys into an engine sort document.
func RenderSort(keys []SortKey) bson.D {
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if k.Descending {
			dir = -1
		}
		out = append(out, bson.E{Key: k.Field, Value: dir})
	}
	return out
}

// RenderIndexKeys converts index keys into an engine key document.
func RenderIndexKeys(keys []IndexKey) bson.D {
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if k.Descending {
			dir = -1
		}
		out = append(out, bson.E{Key: k.Field, Value: dir})
	}
	return out
}
