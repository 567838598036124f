package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when an optimistic counter update loses
// a race. Callers retry the whole transaction.
var ErrVersionConflict = errors.New("version counter conflict")

const mysqlDuplicateEntry = 1062

// IsConflict reports whether err is a uniqueness or optimistic-update
// conflict that is safe to retry with fresh reads.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}
