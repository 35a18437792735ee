package db

// UpdateKind is a field mutation operator.
type UpdateKind string

// Update operators, named after their engine spelling.
const (
	UpdateSet         UpdateKind = "$set"
	UpdateSetOnInsert UpdateKind = "$setOnInsert"
	UpdateUnset       UpdateKind = "$unset"
	UpdateInc         UpdateKind = "$inc"
	UpdateMul         UpdateKind = "$mul"
	UpdateBit         UpdateKind = "$bit"
	UpdatePush        UpdateKind = "$push"
	UpdateAddToSet    UpdateKind = "$addToSet"
	UpdatePop         UpdateKind = "$pop"
	UpdatePullAll     UpdateKind = "$pullAll"
	UpdatePull        UpdateKind = "$pull"
	UpdateMin         UpdateKind = "$min"
	UpdateMax         UpdateKind = "$max"
	UpdateRename      UpdateKind = "$rename"
)

// BitOp selects the bitwise operation of an UpdateBit op.
type BitOp string

// Bitwise operations.
const (
	BitAnd BitOp = "and"
	BitOr  BitOp = "or"
	BitXor BitOp = "xor"
)

// UpdateOp is a single field mutation.
type UpdateOp struct {
	Kind  UpdateKind
	Field string
	// Value is the operand; for UpdateRename it is the new field name,
	// for UpdatePush/UpdateAddToSet/UpdatePullAll it is a []any.
	Value any
	// Bit is set for UpdateBit.
	Bit BitOp
	// Slice keeps the last N items after an UpdatePush (0 keeps everything).
	Slice int
	// Pop is -1 to remove the first item, 1 to remove the last one.
	Pop int
	// Sub is the element predicate of an UpdatePull.
	Sub Filter
}

// Update is an ordered list of mutations.
type Update struct {
	Ops []UpdateOp
}

// IsEmpty reports whether the update has no mutations.
func (u Update) IsEmpty() bool {
	return len(u.Ops) == 0
}

// With returns a copy of u with extra ops appended.
func (u Update) With(ops ...UpdateOp) Update {
	out := make([]UpdateOp, 0, len(u.Ops)+len(ops))
	out = append(out, u.Ops...)
	out = append(out, ops...)
	return Update{Ops: out}
}
