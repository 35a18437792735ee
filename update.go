package minq

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kailas-cloud/minq/internal/db"
)

// UpdateChain builds an ordered list of field mutations. Operations are
// never merged: two mutations of one field fail at execution with a
// *WriteConflictError.
type UpdateChain struct {
	ops    []db.UpdateOp
	shapes map[Field]shape
	now    func() time.Time
	err    error
}

// NewUpdate returns an empty chain. Without a model schema Clear sets null.
func NewUpdate() *UpdateChain {
	return newUpdateChain(nil, time.Now)
}

func newUpdateChain(shapes map[Field]shape, now func() time.Time) *UpdateChain {
	return &UpdateChain{shapes: shapes, now: now}
}

func (c *UpdateChain) fail(err error) *UpdateChain {
	if c.err == nil {
		c.err = err
	}
	return c
}

func (c *UpdateChain) add(op db.UpdateOp) *UpdateChain {
	if op.Field == "" {
		return c.fail(invalidQuery("field name is required for %s", op.Kind))
	}
	c.ops = append(c.ops, op)
	return c
}

// Set assigns value to the field.
func (c *UpdateChain) Set(f Field, value any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateSet, Field: string(f), Value: value})
}

// SetOnInsert assigns value only when an upsert inserts the document.
func (c *UpdateChain) SetOnInsert(f Field, value any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateSetOnInsert, Field: string(f), Value: value})
}

// Unset removes the field.
func (c *UpdateChain) Unset(f Field) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateUnset, Field: string(f)})
}

// Increment adds by to a numeric field. A missing field is set to by.
func (c *UpdateChain) Increment(f Field, by any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateInc, Field: string(f), Value: by})
}

// Multiply multiplies a numeric field. A missing field is set to zero.
func (c *UpdateChain) Multiply(f Field, by any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateMul, Field: string(f), Value: by})
}

// Divide multiplies a numeric field by the reciprocal of by.
func (c *UpdateChain) Divide(f Field, by float64) *UpdateChain {
	if by == 0 {
		return c.fail(invalidQuery("division by zero on field %s", f))
	}
	return c.Multiply(f, 1/by)
}

// BitwiseAnd ANDs an integer field with mask.
func (c *UpdateChain) BitwiseAnd(f Field, mask int64) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateBit, Field: string(f), Value: mask, Bit: db.BitAnd})
}

// BitwiseOr ORs an integer field with mask.
func (c *UpdateChain) BitwiseOr(f Field, mask int64) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateBit, Field: string(f), Value: mask, Bit: db.BitOr})
}

// BitwiseXor XORs an integer field with mask.
func (c *UpdateChain) BitwiseXor(f Field, mask int64) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateBit, Field: string(f), Value: mask, Bit: db.BitXor})
}

// AddItems appends items to an array field. When keepLast is positive only
// the keepLast most recent items are kept.
func (c *UpdateChain) AddItems(f Field, keepLast int, items ...any) *UpdateChain {
	if keepLast < 0 {
		return c.fail(invalidQuery("keepLast must not be negative on field %s", f))
	}
	return c.add(db.UpdateOp{Kind: db.UpdatePush, Field: string(f), Value: flatten(items), Slice: keepLast})
}

// Union adds the items not already present in the array field.
func (c *UpdateChain) Union(f Field, items ...any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateAddToSet, Field: string(f), Value: flatten(items)})
}

// RemoveFirstItem drops the first element of an array field.
func (c *UpdateChain) RemoveFirstItem(f Field) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdatePop, Field: string(f), Pop: -1})
}

// RemoveLastItem drops the last element of an array field.
func (c *UpdateChain) RemoveLastItem(f Field) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdatePop, Field: string(f), Pop: 1})
}

// RemoveItems removes every occurrence of items from the array field.
func (c *UpdateChain) RemoveItems(f Field, items ...any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdatePullAll, Field: string(f), Value: flatten(items)})
}

// RemoveWhere removes the document elements of an array field matching the
// predicate. Predicate fields are relative to the element.
func (c *UpdateChain) RemoveWhere(f Field, build func(*FilterChain)) *UpdateChain {
	s := NewFilter()
	build(s)
	def, err := s.Build()
	if err != nil {
		return c.fail(err)
	}
	return c.add(db.UpdateOp{Kind: db.UpdatePull, Field: string(f), Sub: def.filter})
}

// Minimum sets the field to value if value is lower.
func (c *UpdateChain) Minimum(f Field, value any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateMin, Field: string(f), Value: value})
}

// Maximum sets the field to value if value is greater.
func (c *UpdateChain) Maximum(f Field, value any) *UpdateChain {
	return c.add(db.UpdateOp{Kind: db.UpdateMax, Field: string(f), Value: value})
}

// Clear resets the field to the empty value of its shape: an empty array
// for slices, an empty document for maps and structs, null otherwise.
func (c *UpdateChain) Clear(f Field) *UpdateChain {
	var empty any
	switch c.shapes[f] {
	case shapeArray:
		empty = bson.A{}
	case shapeDocument:
		empty = bson.M{}
	}
	return c.Set(f, empty)
}

// Rename moves the field's value to a new field name.
func (c *UpdateChain) Rename(f, to Field) *UpdateChain {
	if to == "" {
		return c.fail(invalidQuery("rename target is required for field %s", f))
	}
	return c.add(db.UpdateOp{Kind: db.UpdateRename, Field: string(f), Value: string(to)})
}

// SetToCurrentTimestamp sets the field to the current unix time in seconds.
func (c *UpdateChain) SetToCurrentTimestamp(f Field) *UpdateChain {
	return c.Set(f, c.now().Unix())
}

// Build returns the immutable definition. An empty chain is an error.
func (c *UpdateChain) Build() (UpdateDefinition, error) {
	if c.err != nil {
		return UpdateDefinition{}, c.err
	}
	if len(c.ops) == 0 {
		return UpdateDefinition{}, invalidQuery("update has no operations")
	}
	return UpdateDefinition{update: db.Update{Ops: append([]db.UpdateOp(nil), c.ops...)}}, nil
}

// UpdateDefinition is a built list of field mutations.
type UpdateDefinition struct {
	update db.Update
}

// Len returns the number of mutations.
func (d UpdateDefinition) Len() int { return len(d.update.Ops) }

// touches reports whether any mutation targets f.
func (d UpdateDefinition) touches(f Field) bool {
	for _, op := range d.update.Ops {
		if op.Field == string(f) {
			return true
		}
	}
	return false
}

func (d UpdateDefinition) String() string {
	raw, err := bson.MarshalExtJSON(db.RenderUpdate(d.update), false, false)
	if err != nil {
		return "<invalid update: " + err.Error() + ">"
	}
	return string(raw)
}
