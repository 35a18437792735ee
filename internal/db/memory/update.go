package memory

import (
	"fmt"
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kailas-cloud/minq/internal/db"
)

// checkConflicts rejects updates that touch the same path twice or a path
// and one of its parents, the way the server does.
func checkConflicts(u db.Update) error {
	var seen []string
	touch := func(path string) error {
		for _, s := range seen {
			if s == path || strings.HasPrefix(s, path+".") || strings.HasPrefix(path, s+".") {
				return fmt.Errorf("%w: updating the path %q would create a conflict at %q",
					db.ErrWriteConflict, path, s)
			}
		}
		seen = append(seen, path)
		return nil
	}
	for i := range u.Ops {
		op := &u.Ops[i]
		if err := touch(op.Field); err != nil {
			return err
		}
		if op.Kind == db.UpdateRename {
			to, _ := op.Value.(string)
			if err := touch(to); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyUpdate mutates doc in place. insert enables $setOnInsert ops.
func applyUpdate(doc db.Document, u db.Update, m *matcher, insert bool) error {
	for i := range u.Ops {
		if err := applyOp(doc, &u.Ops[i], m, insert); err != nil {
			return fmt.Errorf("%s %s: %w", u.Ops[i].Kind, u.Ops[i].Field, err)
		}
	}
	return nil
}

func applyOp(doc db.Document, op *db.UpdateOp, m *matcher, insert bool) error {
	switch op.Kind {
	case db.UpdateSet:
		return setNormalized(doc, op.Field, op.Value)
	case db.UpdateSetOnInsert:
		if !insert {
			return nil
		}
		return setNormalized(doc, op.Field, op.Value)
	case db.UpdateUnset:
		unsetPath(doc, op.Field)
		return nil
	case db.UpdateInc, db.UpdateMul:
		return applyArithmetic(doc, op)
	case db.UpdateBit:
		return applyBit(doc, op)
	case db.UpdateMin, db.UpdateMax:
		return applyClamp(doc, op)
	case db.UpdateRename:
		to, _ := op.Value.(string)
		v, ok := getPath(doc, op.Field)
		if !ok {
			return nil
		}
		unsetPath(doc, op.Field)
		return setPath(doc, to, v)
	case db.UpdatePush, db.UpdateAddToSet, db.UpdatePop, db.UpdatePullAll, db.UpdatePull:
		return applyArray(doc, op, m)
	default:
		return fmt.Errorf("unsupported update operator")
	}
}

func setNormalized(doc db.Document, path string, v any) error {
	nv, err := normalize(v)
	if err != nil {
		return err
	}
	return setPath(doc, path, nv)
}

func applyArithmetic(doc db.Document, op *db.UpdateOp) error {
	operand, err := normalize(op.Value)
	if err != nil {
		return err
	}
	if _, ok := toFloat64(operand); !ok {
		return fmt.Errorf("cannot apply to non-numeric operand %v", op.Value)
	}
	cur, ok := getPath(doc, op.Field)
	if !ok || cur == nil {
		if op.Kind == db.UpdateInc {
			return setPath(doc, op.Field, operand)
		}
		return setPath(doc, op.Field, zeroLike(operand))
	}
	if _, ok := toFloat64(cur); !ok {
		return fmt.Errorf("cannot apply to non-numeric field value %v", cur)
	}

	ai, aInt := toInt64(cur)
	bi, bInt := toInt64(operand)
	if aInt && bInt {
		var r int64
		if op.Kind == db.UpdateInc {
			r = ai + bi
		} else {
			r = ai * bi
		}
		_, a32 := cur.(int32)
		_, b32 := operand.(int32)
		if a32 && b32 && r >= math.MinInt32 && r <= math.MaxInt32 {
			return setPath(doc, op.Field, int32(r))
		}
		return setPath(doc, op.Field, r)
	}

	af, _ := toFloat64(cur)
	bf, _ := toFloat64(operand)
	if op.Kind == db.UpdateInc {
		return setPath(doc, op.Field, af+bf)
	}
	return setPath(doc, op.Field, af*bf)
}

func zeroLike(v any) any {
	switch v.(type) {
	case int32:
		return int32(0)
	case int64:
		return int64(0)
	default:
		return float64(0)
	}
}

func applyBit(doc db.Document, op *db.UpdateOp) error {
	operand, err := normalize(op.Value)
	if err != nil {
		return err
	}
	b, ok := toInt64(operand)
	if !ok {
		return fmt.Errorf("bitwise operand must be an integer, got %v", op.Value)
	}
	cur, exists := getPath(doc, op.Field)
	var a int64
	if exists && cur != nil {
		if a, ok = toInt64(cur); !ok {
			return fmt.Errorf("cannot apply bitwise op to non-integer field value %v", cur)
		}
	}
	var r int64
	switch op.Bit {
	case db.BitAnd:
		r = a & b
	case db.BitOr:
		r = a | b
	case db.BitXor:
		r = a ^ b
	default:
		return fmt.Errorf("unknown bitwise op %q", op.Bit)
	}
	if _, ok := operand.(int32); ok {
		if _, curInt64 := cur.(int64); !curInt64 {
			return setPath(doc, op.Field, int32(r))
		}
	}
	return setPath(doc, op.Field, r)
}

func applyClamp(doc db.Document, op *db.UpdateOp) error {
	operand, err := normalize(op.Value)
	if err != nil {
		return err
	}
	cur, ok := getPath(doc, op.Field)
	if !ok {
		return setPath(doc, op.Field, operand)
	}
	c := sortCompare(operand, cur)
	if (op.Kind == db.UpdateMin && c < 0) || (op.Kind == db.UpdateMax && c > 0) {
		return setPath(doc, op.Field, operand)
	}
	return nil
}

func applyArray(doc db.Document, op *db.UpdateOp, m *matcher) error {
	cur, exists := getPath(doc, op.Field)
	var arr bson.A
	if exists && cur != nil {
		a, ok := cur.(bson.A)
		if !ok {
			return fmt.Errorf("field value %v is not an array", cur)
		}
		arr = append(bson.A{}, a...)
	}

	switch op.Kind {
	case db.UpdatePush, db.UpdateAddToSet, db.UpdatePullAll:
		items, err := normalizeItems(op.Value)
		if err != nil {
			return err
		}
		switch op.Kind {
		case db.UpdatePush:
			arr = append(arr, items...)
			if op.Slice > 0 && len(arr) > op.Slice {
				arr = arr[len(arr)-op.Slice:]
			}
		case db.UpdateAddToSet:
			for _, item := range items {
				if !containsValue(arr, item) {
					arr = append(arr, item)
				}
			}
		default:
			kept := arr[:0]
			for _, v := range arr {
				if !containsValue(items, v) {
					kept = append(kept, v)
				}
			}
			arr = kept
		}
	case db.UpdatePop:
		if !exists {
			return nil
		}
		if len(arr) > 0 {
			if op.Pop < 0 {
				arr = arr[1:]
			} else {
				arr = arr[:len(arr)-1]
			}
		}
	case db.UpdatePull:
		if !exists {
			return nil
		}
		kept := bson.A{}
		for _, v := range arr {
			sub, ok := v.(bson.M)
			if ok {
				hit, err := m.matches(sub, op.Sub)
				if err != nil {
					return err
				}
				if hit {
					continue
				}
			}
			kept = append(kept, v)
		}
		arr = kept
	}

	if arr == nil {
		arr = bson.A{}
	}
	return setPath(doc, op.Field, arr)
}

func normalizeItems(v any) (bson.A, error) {
	nv, err := normalize(v)
	if err != nil {
		return nil, err
	}
	switch t := nv.(type) {
	case nil:
		return bson.A{}, nil
	case bson.A:
		return t, nil
	default:
		return bson.A{t}, nil
	}
}

func containsValue(arr bson.A, v any) bool {
	for _, e := range arr {
		if equal(e, v) {
			return true
		}
	}
	return false
}
