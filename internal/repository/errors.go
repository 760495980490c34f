// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and services to distinguish between failure scenarios without
// inspecting driver errors.
package repository

import (
	"errors"
	"math"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers translate this into 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a delete or update cannot be performed
// because of dependent records, such as deleting a game that still has
// purchases referencing it. Handlers translate this into 409.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers the repositories react to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlRowIsReferenced = 1451
)

func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

func isDuplicate(err error) bool  { return isMySQLError(err, mysqlDuplicateEntry) }
func isReferenced(err error) bool { return isMySQLError(err, mysqlRowIsReferenced) }

// pageOffset converts a 1-based page and a page size into a row offset.
// Pages past the addressable range saturate at math.MaxInt, which MySQL
// answers with an empty page.
func pageOffset(page, limit int) int {
	if page < 1 || limit < 1 {
		return 0
	}
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}
