package db

import (
	"strings"

	"github.com/eliasyaoyc/fastjob/internal/errors"
)

// ErrDatabaseClosed marks errors caused by Runtime.Stop closing the *sql.DB
// out from under a goroutine that was still mid-tick (spec.md §6 shutdown
// drain). internal/store.wrapStorage attaches this mark to every gateway
// error that traces back to a closed handle, so scheduler.Loop.Tick and
// friends can tell an expected shutdown race from a genuine storage fault.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is (or wraps, or merely describes) a
// closed-database condition. Two paths lead here: gateway errors carrying
// the ErrDatabaseClosed mark, and raw driver errors that never passed
// through the gateway's wrapping at all — database/sql and the sqlite3
// driver return their own unexported error values for this case, so a
// string match on the message is the only hook available for those.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed")
}
