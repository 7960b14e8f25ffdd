package middleware

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// transientCodes are the database error codes classified as availability
// failures: connection-class SQLSTATEs, resource exhaustion, admin
// shutdown, serialization pressure, and serverless-tier throttling.
var transientCodes = map[string]struct{}{
	"08000": {}, // connection exception
	"08001": {}, // unable to establish connection
	"08003": {}, // connection does not exist
	"08006": {}, // connection failure
	"53300": {}, // too many connections
	"57P01": {}, // admin shutdown
	"57P02": {}, // crash shutdown
	"57P03": {}, // cannot connect now
	"40001": {}, // serialization failure
	"40613": {}, // serverless database currently unavailable
}

// IsTransientDBError reports whether err is a database-availability failure
// the breaker should absorb. It unwraps the whole chain: classification
// happens here, not at individual call sites.
func IsTransientDBError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientCodes[pgErr.Code]
		return ok
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	return false
}

// TransientErrorCode extracts a short code for the maintenance surface.
func TransientErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	return "unavailable"
}
