package mongodb

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kailas-cloud/minq/internal/db"
)

// Server error codes the adapter translates.
const (
	codeIndexNotFound         = 27
	codeConflictingUpdate     = 40
	codeWriteConflict         = 112
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// mapError wraps driver errors with the matching db sentinel, keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", db.ErrDuplicateKey, err)
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorCode(codeConflictingUpdate), se.HasErrorCode(codeWriteConflict),
			se.HasErrorMessage("would create a conflict"), se.HasErrorMessage("WriteConflict"):
			return fmt.Errorf("%w: %w", db.ErrWriteConflict, err)
		case se.HasErrorCode(codeIndexOptionsConflict), se.HasErrorCode(codeIndexKeySpecsConflict):
			return fmt.Errorf("%w: %w", db.ErrIndexExists, err)
		case se.HasErrorCode(codeIndexNotFound), se.HasErrorMessage("index not found"):
			return fmt.Errorf("%w: %w", db.ErrIndexNotFound, err)
		}
	}
	if strings.Contains(err.Error(), "would create a conflict") {
		return fmt.Errorf("%w: %w", db.ErrWriteConflict, err)
	}
	return err
}

func wrap(op string, err error) error {
	return &db.Error{Op: op, Err: mapError(err)}
}
