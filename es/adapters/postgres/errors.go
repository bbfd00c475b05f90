package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/riftlog/riftlog/es"
)

// pq error codes this adapter distinguishes between. See
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation     = "23505"
	pqConnectionException = "08000"
	pqConnectionFailure   = "08006"
	pqAdminShutdown       = "57P01"
)

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// i.e. a concurrent append/link lost the race the advisory lock was meant
// to prevent (the lock and the constraint are defense in depth for each
// other).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// isConnectivityLoss reports whether err indicates the database connection
// itself failed, as opposed to a query-level error against a healthy
// connection. These translate to es.ErrTransport so callers fail fast
// instead of retrying a doomed operation.
func isConnectivityLoss(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqConnectionException, pqConnectionFailure, pqAdminShutdown:
			return true
		}
	}
	return false
}

// translateConnErr wraps err as es.ErrTransport when it represents lost
// database connectivity, leaving other errors untouched so callers can
// still inspect the underlying pq.Error.
func translateConnErr(err error) error {
	if err == nil {
		return nil
	}
	if isConnectivityLoss(err) {
		return fmt.Errorf("%w: %v", es.ErrTransport, err)
	}
	return err
}
