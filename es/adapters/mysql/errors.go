package mysql

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/riftlog/riftlog/es"
)

// erDupEntry is MySQL's duplicate-key error number.
// https://mariadb.com/kb/en/mariadb-error-codes/
const erDupEntry = 1062

// IsUniqueViolation reports whether err is a MySQL duplicate-entry error,
// i.e. a concurrent append/link lost the race the row lock was meant to
// prevent (the lock and the constraint are defense in depth for each
// other).
func IsUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == erDupEntry
	}
	return false
}

// isConnectivityLoss reports whether err indicates the database connection
// itself failed, as opposed to a query-level error against a healthy
// connection.
func isConnectivityLoss(err error) bool {
	return errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrBusyBuffer)
}

// translateConnErr wraps err as es.ErrTransport when it represents lost
// database connectivity, leaving other errors untouched.
func translateConnErr(err error) error {
	if err == nil {
		return nil
	}
	if isConnectivityLoss(err) {
		return fmt.Errorf("%w: %v", es.ErrTransport, err)
	}
	return err
}
