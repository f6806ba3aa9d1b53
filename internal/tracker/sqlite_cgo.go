//go:build cgo

package tracker

import _ "github.com/mattn/go-sqlite3"

// sqliteDriver is the database/sql driver name registered for this build.
// CGO builds use the mattn/go-sqlite3 binding; pure-Go builds (see
// sqlite_purego.go) use modernc.org/sqlite instead.
const sqliteDriver = "sqlite3"
