package minq

// Field is a document field name as stored, e.g. "name" or "address.city".
// Models declare their fields once as constants:
//
//	const (
//	    PersonName minq.Field = "name"
//	    PersonAge  minq.Field = "age"
//	)
type Field string

// Dot returns the nested field child of f.
func (f Field) Dot(child Field) Field {
	return f + "." + child
}

func (f Field) String() string { return string(f) }

// Fields of Record.
const (
	FieldID        Field = "_id"
	FieldCreatedOn Field = "createdOn"
)

// Identifiable is implemented by documents whose identity the layer assigns
// on first persistence. Methods are called on *T.
type Identifiable interface {
	GetID() string
	SetID(id string)
	GetCreatedOn() int64
	SetCreatedOn(unix int64)
}

// Record carries the identity fields. Embed it inline:
//
//	type Person struct {
//	    minq.Record `bson:",inline"`
//	    Name        string `bson:"name"`
//	}
type Record struct {
	ID        string `bson:"_id,omitempty" json:"id"`
	CreatedOn int64  `bson:"createdOn,omitempty" json:"createdOn"`
}

func (r *Record) GetID() string           { return r.ID }
func (r *Record) SetID(id string)         { r.ID = id }
func (r *Record) GetCreatedOn() int64     { return r.CreatedOn }
func (r *Record) SetCreatedOn(unix int64) { r.CreatedOn = unix }

// Indexed is implemented by models that declare their indexes. It is called
// on the zero value of T.
type Indexed interface {
	Indexes() []Index
}

// Searchable is implemented by models that name their substring-searchable
// fields. Without it, Search uses every string field of T.
type Searchable interface {
	SearchFields() []Field
}
