package connectivity

import (
	"database/sql"

	"github.com/hazyhaar/dommirror/dbopen"
)

// Schema defines the routes table. Strategies:
//   - "local": the handler registered with RegisterLocal.
//   - "http":  POST to endpoint through HTTPFactory.
//   - "noop":  succeed without doing anything.
//
// Any write bumps PRAGMA data_version, which Watch polls.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// OpenDB opens the routes database with the schema applied.
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(5000), dbopen.WithSchema(Schema))
}

// Init creates the routes table if it does not exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
