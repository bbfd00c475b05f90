package sqlite

import "strings"

// IsUniqueViolation reports whether err is a SQLite unique constraint
// violation, i.e. a concurrent append/link lost the race the write-intent
// lock was meant to prevent. The mattn/go-sqlite3 driver does not expose a
// typed error for this in every build configuration, so the message is
// matched directly, same as the teacher adapter did.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
