package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound maps sql.ErrNoRows to a nil result without error. Lookups
// and conditional UPDATE ... RETURNING statements use it so that "no such
// row" and "row not in an updatable state" both surface as nil.
//
//	var row model.StudySessionRow
//	err := r.db.GetContext(ctx, &row, query, args...)
//	return HandleNotFound(&row, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
