package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"chathub/pkg/types"
)

// Manager lifecycle errors
var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

const pgUniqueViolation = "23505"

// storeError tags a driver failure as a StoreUnavailable-class error while
// keeping the driver error in the chain for logging.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}

// isUniqueViolation reports whether err is a uniqueness constraint failure
// from either dialect.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isBusy reports whether a SQLite write failed on lock contention and is
// worth one retry.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
