package mongodb

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kailas-cloud/minq/internal/db"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			"write conflict code",
			mongo.CommandError{Code: codeWriteConflict, Message: "WriteConflict error"},
			db.ErrWriteConflict,
		},
		{
			"conflicting update paths",
			mongo.WriteException{WriteErrors: []mongo.WriteError{{
				Code:    codeConflictingUpdate,
				Message: "Updating the path 'n' would create a conflict at 'n'",
			}}},
			db.ErrWriteConflict,
		},
		{
			"duplicate key",
			mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}},
			db.ErrDuplicateKey,
		},
		{
			"index options conflict",
			mongo.CommandError{Code: codeIndexOptionsConflict, Message: "Index already exists with a different name"},
			db.ErrIndexExists,
		},
		{
			"index key specs conflict",
			mongo.CommandError{Code: codeIndexKeySpecsConflict, Message: "Index must have unique name"},
			db.ErrIndexExists,
		},
		{
			"index not found",
			mongo.CommandError{Code: codeIndexNotFound, Message: "index not found with name [x]"},
			db.ErrIndexNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := wrap(db.OpUpdate, tc.err)
			if !errors.Is(got, tc.want) {
				t.Errorf("wrap() = %v, want %v in chain", got, tc.want)
			}
			var dbErr *db.Error
			if !errors.As(got, &dbErr) || dbErr.Op != db.OpUpdate {
				t.Errorf("wrap() = %T, want *db.Error with op %s", got, db.OpUpdate)
			}
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	orig := errors.New("network down")
	if got := mapError(orig); got != orig {
		t.Errorf("mapError() = %v, want original error", got)
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
}

func TestIsDescending(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{int32(1), false},
		{int32(-1), true},
		{int64(-1), true},
		{-1.0, true},
		{"text", false},
	}
	for _, tc := range tests {
		if got := isDescending(tc.v); got != tc.want {
			t.Errorf("isDescending(%v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}
