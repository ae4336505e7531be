package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrDuplicate reports an insert that hit a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

const pqUniqueViolation = "23505"

// HandleNotFound turns sql.ErrNoRows into a nil result: a missing row is
// not an error for Find* lookups.
//
//	var site model.Site
//	err := r.db.GetContext(ctx, &site, query, args...)
//	return HandleNotFound(&site, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// translateInsertError maps unique violations to ErrDuplicate and leaves
// every other error untouched.
func translateInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
