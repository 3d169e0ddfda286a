package observability

import (
	"database/sql"

	"github.com/hazyhaar/dommirror/dbopen"
)

// Schema is the DDL for the metrics database.
const Schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id    INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_name  TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    value        REAL NOT NULL,
    labels       TEXT,
    unit         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp_ms DESC);
CREATE INDEX IF NOT EXISTS idx_metrics_time
    ON metrics_timeseries(timestamp_ms DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// OpenDB opens the metrics database at path with the schema applied.
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}
