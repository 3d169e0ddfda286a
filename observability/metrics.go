// Package observability records domagent metrics into SQLite: event
// counts, request latencies, router calls and process health.
//
// Metrics go to their own database so flushing never contends with the
// watchpoint store. Recording is buffered and never blocks the caller; a
// failed flush drops the batch and logs it.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric is one datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit"` // "milliseconds", "count", "megabytes"
}

// MetricsManager buffers metrics and writes them in one transaction per
// flush. A nil *MetricsManager accepts and discards everything, so
// components can hold one unconditionally.
type MetricsManager struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*Metric

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMetricsManager starts a manager that flushes when bufferSize metrics
// are queued or every flushInterval, whichever comes first.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *MetricsManager {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:            db,
		logger:        logger,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.loop()
	return mm
}

// Record queues m.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	full := len(mm.buffer) >= mm.bufferSize
	var batch []*Metric
	if full {
		batch = mm.takeLocked()
	}
	mm.mu.Unlock()
	if full {
		mm.write(batch)
	}
}

// RecordSimple records a metric with no labels, timestamped now.
func (mm *MetricsManager) RecordSimple(name string, value float64, unit string) {
	mm.Record(&Metric{Name: name, Timestamp: time.Now(), Value: value, Unit: unit})
}

// Flush writes whatever is buffered.
func (mm *MetricsManager) Flush() {
	if mm == nil {
		return
	}
	mm.mu.Lock()
	batch := mm.takeLocked()
	mm.mu.Unlock()
	mm.write(batch)
}

// Query returns up to limit metrics named name (all names when empty)
// recorded at or after since, newest first.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]*Metric, error) {
	q := `SELECT metric_name, timestamp_ms, value, labels, unit FROM metrics_timeseries WHERE timestamp_ms >= ?`
	args := []any{since.UnixMilli()}
	if name != "" {
		q += ` AND metric_name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY timestamp_ms DESC, metric_id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Cleanup deletes metrics older than retention and returns how many went.
func (mm *MetricsManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := mm.db.ExecContext(ctx,
		`DELETE FROM metrics_timeseries WHERE timestamp_ms < ?`, time.Now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes and stops the background loop. Safe to call twice.
func (mm *MetricsManager) Close() error {
	if mm == nil {
		return nil
	}
	mm.once.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) loop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) takeLocked() []*Metric {
	if len(mm.buffer) == 0 {
		return nil
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)
	return batch
}

func (mm *MetricsManager) write(batch []*Metric) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability: begin tx", "error", err, "dropped", len(batch))
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp_ms, value, labels, unit) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability: prepare", "error", err, "dropped", len(batch))
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			mm.logger.Warn("observability: insert metric", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability: commit", "error", err, "dropped", len(batch))
	}
}
