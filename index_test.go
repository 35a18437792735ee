package minq

import (
	"errors"
	"testing"
)

func TestIndexChain_Build(t *testing.T) {
	idx, err := NewIndex().Ascending(personName).Descending(personAge).Unique().Named("by_name_age").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Name() != "by_name_age" || !idx.Unique() {
		t.Errorf("idx = %s", idx)
	}
	if got, want := idx.String(), "by_name_age{name:1,age:-1} unique"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestIndexChain_BuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		chain *IndexChain
	}{
		{"no keys", NewIndex()},
		{"duplicate key", NewIndex().Ascending(personName).Descending(personName)},
		{"operator field", NewIndex().Ascending("$bad")},
		{"reserved prefix", NewIndex().Ascending(personName).Named("minq_7")},
		{"id index name", NewIndex().Ascending(personName).Named("_id_")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.chain.Build(); !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("Build() error = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestIndex_Equivalent(t *testing.T) {
	ab := NewIndex().Ascending("a", "b").MustBuild()
	tests := []struct {
		name  string
		other Index
		want  bool
	}{
		{"same", NewIndex().Ascending("a", "b").MustBuild(), true},
		{"direction ignored", NewIndex().Descending("a", "b").MustBuild(), true},
		{"uniqueness ignored", NewIndex().Ascending("a", "b").Unique().MustBuild(), true},
		{"order matters", NewIndex().Ascending("b", "a").MustBuild(), false},
		{"prefix", NewIndex().Ascending("a").MustBuild(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ab.Equivalent(tt.other); got != tt.want {
				t.Errorf("Equivalent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIndex_Covers(t *testing.T) {
	idx := NewIndex().Ascending("a", "b", "c").MustBuild()
	tests := []struct {
		fields []Field
		want   bool
	}{
		{[]Field{"a"}, true},
		{[]Field{"b", "a"}, true},
		{[]Field{"a", "c"}, false},
		{[]Field{"a", "b", "c", "d"}, false},
	}
	for _, tt := range tests {
		if got := idx.covers(tt.fields); got != tt.want {
			t.Errorf("covers(%v) = %v, want %v", tt.fields, got, tt.want)
		}
	}
}
