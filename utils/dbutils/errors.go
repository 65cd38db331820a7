package dbutils

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const uniqueViolationCode = pq.ErrorCode("23505")

// IsUniqueViolation returns true if the supplied error was caused by
// a unique constraint violation in postgres
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}
