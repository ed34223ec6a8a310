// Package database records sync history in SQLite.
//
// The StateDB stores:
//   - one row per sync run with its counters and a JSON summary
//   - one row per downloaded file path with its source URL and digest
//
// SQLite is used through modernc.org/sqlite, which needs no cgo. The
// database lives in a single file in the XDG data directory.
package database
