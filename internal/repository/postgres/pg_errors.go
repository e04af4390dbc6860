package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/dinetrack/internal/repository"
)

// IsRetryable reports whether err is a transient database failure
// (serialization failure or deadlock) that the caller may retry, as
// opposed to a domain condition.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	return false
}

func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		// unique_violation
		if pge.Code == "23505" {
			return repository.ErrConflict
		}
	}

	return err
}

// translateFKErr additionally maps foreign_key_violation to ErrNotFound,
// for inserts that reference a row the caller named.
func translateFKErr(err error) error {
	var pge *pgconn.PgError
	if errors.As(err, &pge) && pge.Code == "23503" {
		return repository.ErrNotFound
	}

	return translateDBErr(err)
}
