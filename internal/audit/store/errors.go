package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"brandaudit/pkg/platform/sentinel"
)

// wrapErr annotates err with op and marks connection-level failures with
// sentinel.ErrUnavailable so callers can tell an outage from a bad record.
func wrapErr(op string, err error) error {
	if isConnErr(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnErr(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	// Class 08 is connection_exception, 57P0x is operator intervention.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01" || pqErr.Code == "57P03"
	}
	return false
}
