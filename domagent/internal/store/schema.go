package store

// Schema contains the DDL for the domagent tables.
const Schema = `
-- Watchpoints keyed by structural position: ids do not survive a reload,
-- paths do.
CREATE TABLE IF NOT EXISTS watchpoints (
    id            TEXT PRIMARY KEY,
    document_url  TEXT NOT NULL,
    path          TEXT NOT NULL,
    kind          INTEGER NOT NULL CHECK(kind IN (0, 1, 2)),
    enabled       INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    UNIQUE(document_url, path, kind)
);
CREATE INDEX IF NOT EXISTS idx_watchpoints_url ON watchpoints(document_url);
`
