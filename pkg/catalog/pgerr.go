package catalog

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// postgres error codes used to classify constraint violations, per
// https://www.postgresql.org/docs/current/errcodes-appendix.html.
const (
	pgCodeUniqueViolation     = "23505"
	pgCodeForeignKeyViolation = "23503"
	pgCodeCheckViolation      = "23514"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCodeUniqueViolation
}

func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgCodeUniqueViolation, pgCodeForeignKeyViolation, pgCodeCheckViolation:
		return true
	default:
		return false
	}
}
