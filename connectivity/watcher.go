package connectivity

import (
	"context"
	"database/sql"
	"time"
)

// Watch reloads the routes whenever PRAGMA data_version changes, polling
// at interval. It blocks until ctx is cancelled.
//
//	go router.Watch(ctx, db, 500*time.Millisecond)
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial reload failed", "error", err)
	}
	var last int64
	if err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&last); err != nil {
		r.logger.Warn("connectivity: data_version", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ver int64
			if err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&ver); err != nil {
				r.logger.Warn("connectivity: data_version poll failed", "error", err)
				continue
			}
			if ver == last {
				continue
			}
			last = ver
			if err := r.Reload(ctx, db); err != nil {
				r.logger.Error("connectivity: reload failed", "error", err)
			}
		}
	}
}
