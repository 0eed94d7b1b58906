package database

import (
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"nftmarket/internal/apperr"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// Classify maps a storage failure onto the error taxonomy. Client-facing
// errors pass through; lock contention becomes a retryable LockTimeout; any
// other failure is a generic Transaction error.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if IsContention(err) {
		return apperr.LockTimeout("row", err)
	}
	return apperr.Transaction(err)
}

// IsContention reports whether err is a deadlock or lock-wait failure; the
// transaction made no progress and may be retried.
func IsContention(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
