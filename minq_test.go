package minq

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
)

type noID struct {
	Name string `bson:"name"`
}

func TestNew_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	tests := []struct {
		name string
		run  func() error
	}{
		{"nil client", func() error { _, err := New[person](ctx, nil, "people"); return err }},
		{"empty name", func() error { _, err := New[person](ctx, c, ""); return err }},
		{"dollar", func() error { _, err := New[person](ctx, c, "pe$ople"); return err }},
		{"system prefix", func() error { _, err := New[person](ctx, c, "system.users"); return err }},
		{"not a struct", func() error { _, err := New[string](ctx, c, "strings"); return err }},
		{"no id", func() error { _, err := New[noID](ctx, c, "anon"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNew_Name(t *testing.T) {
	people := newPeople(t, newTestClient(t))
	if people.Name() != "people" {
		t.Errorf("Name() = %q", people.Name())
	}
	if people.StartupReport() == nil {
		t.Error("StartupReport() = nil with reconciliation enabled")
	}
}

func TestNew_SearchFields(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	people := newPeople(t, c)
	got := append([]Field(nil), people.searchFields...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if want := []Field{"address.city", "email", "name"}; !reflect.DeepEqual(got, want) {
		t.Errorf("default search fields = %v, want %v", got, want)
	}

	notes, err := New[note](ctx, c, "notes")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := []Field{"title"}; !reflect.DeepEqual(notes.searchFields, want) {
		t.Errorf("Searchable fields = %v, want %v", notes.searchFields, want)
	}

	opt, err := New[note](ctx, c, "notes2", WithSearchFields("body"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := []Field{"body"}; !reflect.DeepEqual(opt.searchFields, want) {
		t.Errorf("WithSearchFields = %v, want %v", opt.searchFields, want)
	}
}

func TestMinq_Search(t *testing.T) {
	ctx := context.Background()
	people := newPeople(t, newTestClient(t))
	seedPeople(t, people,
		person{Name: "Alice", Address: address{City: "Berlin"}},
		person{Name: "Bob", Email: "bob@alice.example"},
		person{Name: "Carol", Address: address{City: "Oslo"}},
		person{Name: "a.b", Address: address{City: "x"}},
	)

	tests := []struct {
		term string
		want []string
	}{
		{"alice", []string{"Alice", "Bob"}},
		{"BERL", []string{"Alice"}},
		{"oslo", []string{"Carol"}},
		{".", []string{"a.b", "Bob"}},
		{"zzz", []string{}},
		{"", []string{}},
		{"   ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			res, err := people.Search(ctx, tt.term)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if res == nil {
				t.Fatal("Search() = nil, want empty slice")
			}
			got := names(res)
			sort.Strings(got)
			want := make([]string, len(tt.want))
			copy(want, tt.want)
			sort.Strings(want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Search(%q) = %v, want %v", tt.term, got, want)
			}
		})
	}
}

func TestMinq_SearchLimit(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	notes, err := New[note](ctx, c, "notes")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	docs := make([]*note, SearchLimit+5)
	for i := range docs {
		docs[i] = &note{Title: "same"}
	}
	if _, err := notes.Insert(ctx, docs...); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := notes.Search(ctx, "same")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != SearchLimit {
		t.Errorf("Search() = %d rows, want %d", len(got), SearchLimit)
	}
}

func TestMinq_SearchWithoutFields(t *testing.T) {
	type bare struct {
		Record `bson:",inline"`
		Count  int `bson:"count"`
	}
	m, err := New[bare](context.Background(), newTestClient(t), "bare")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Search(context.Background(), "x"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestMinq_DefineIndexesDedupes(t *testing.T) {
	ctx := context.Background()
	people := newPeople(t, newTestClient(t))
	idx := NewIndex().Ascending(personEmail).MustBuild()

	first := people.DefineIndexes(ctx, idx)
	second := people.DefineIndexes(ctx, idx)
	if len(first.Created) != 1 || len(second.Created) != 0 || len(second.Skipped) != 1 {
		t.Errorf("reports = %+v, %+v", first, second)
	}
	if len(people.declared) != 1 {
		t.Errorf("declared = %d, want 1", len(people.declared))
	}

	got, err := people.Indexes(ctx)
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	if len(got) != 2 || got[0].Name() != "_id_" {
		t.Errorf("Indexes() = %v", got)
	}
}
