//go:build !cgo

package tracker

import _ "modernc.org/sqlite"

// sqliteDriver is the database/sql driver name registered for this build.
// Pure-Go (CGO_ENABLED=0) builds use modernc.org/sqlite; CGO builds use
// the mattn/go-sqlite3 binding instead (see sqlite_cgo.go).
const sqliteDriver = "sqlite"
