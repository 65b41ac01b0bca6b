package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/courier/id"
)

// SQLSTATE raised by the fingerprint and message-per-job unique indexes.
const uniqueViolation = "23505"

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func parseID(s string, prefix id.Prefix) (id.ID, error) {
	parsed, err := id.ParseNullable(s, prefix)
	if err != nil {
		return id.Nil, fmt.Errorf("courier/postgres: parse %s id %q: %w", prefix, s, err)
	}
	return parsed, nil
}
