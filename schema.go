package minq

import (
	"reflect"
	"strings"
	"time"
)

const tagKey = "bson"

// shape classifies a field for Clear.
type shape int

const (
	shapeScalar shape = iota
	shapeArray
	shapeDocument
)

// schemaMeta holds what the layer needs to know about a model type, parsed
// once per facade.
type schemaMeta struct {
	typ          reflect.Type
	shapes       map[Field]shape
	stringFields []Field
	identifiable bool
}

var timeType = reflect.TypeFor[time.Time]()

// parseSchema reflects on T's bson layout. T must be a struct with an _id
// field, usually through an inline Record.
func parseSchema[T any]() (*schemaMeta, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, configError("model type %s is not a struct", t)
	}

	meta := &schemaMeta{
		typ:          t,
		shapes:       make(map[Field]shape),
		identifiable: reflect.PointerTo(t).Implements(reflect.TypeFor[Identifiable]()),
	}
	walkFields(t, "", 0, meta)

	if _, ok := meta.shapes[FieldID]; !ok {
		return nil, configError("model type %s has no %q field; embed minq.Record with `bson:\",inline\"`", t, FieldID)
	}
	return meta, nil
}

// walkFields records shapes and string fields. Inline structs are flattened;
// nested structs are descended one level.
func walkFields(t reflect.Type, prefix Field, depth int, meta *schemaMeta) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, inline, skip := parseTag(f)
		if skip {
			continue
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if inline && ft.Kind() == reflect.Struct {
			walkFields(ft, prefix, depth, meta)
			continue
		}

		field := Field(name)
		if prefix != "" {
			field = prefix.Dot(field)
		}
		switch {
		case ft.Kind() == reflect.String:
			meta.shapes[field] = shapeScalar
			meta.stringFields = append(meta.stringFields, field)
		case (ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8) || ft.Kind() == reflect.Array:
			meta.shapes[field] = shapeArray
		case ft.Kind() == reflect.Map:
			meta.shapes[field] = shapeDocument
		case ft.Kind() == reflect.Struct && ft != timeType:
			meta.shapes[field] = shapeDocument
			if depth == 0 {
				walkFields(ft, field, depth+1, meta)
			}
		default:
			meta.shapes[field] = shapeScalar
		}
	}
}

// parseTag returns the bson name of a struct field. Untagged fields use the
// lowercased Go name, as the bson codec does.
func parseTag(f reflect.StructField) (name string, inline, skip bool) {
	tag := f.Tag.Get(tagKey)
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, opt := range parts[1:] {
		if opt == "inline" {
			inline = true
		}
	}
	if name == "" {
		name = strings.ToLower(f.Name)
	}
	return name, inline, false
}

// identify assigns identity fields to doc when it implements Identifiable.
func (m *schemaMeta) identify(doc any, newID func() string, now time.Time) {
	id, ok := doc.(Identifiable)
	if !ok {
		return
	}
	if id.GetID() == "" {
		id.SetID(newID())
	}
	if id.GetCreatedOn() == 0 {
		id.SetCreatedOn(now.Unix())
	}
}
