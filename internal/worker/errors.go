package worker

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// errInvalidPayload marks queue items that can never be written.
var errInvalidPayload = errors.New("invalid payload")

// errDrop reports whether err is permanent for a single item: a bad payload
// or a constraint violation such as a reference to a deleted session.
func errDrop(err error) bool {
	if errors.Is(err, errInvalidPayload) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 22 data exception, class 23 integrity constraint violation
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23")
	}
	return false
}
