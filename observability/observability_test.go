package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/dommirror/dbopen"

	_ "modernc.org/sqlite"
)

func testManager(t *testing.T, buffer int) *MetricsManager {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, buffer, time.Hour, nil)
	t.Cleanup(func() { mm.Close() })
	return mm
}

func TestMetricsManager_FlushAndQuery(t *testing.T) {
	mm := testManager(t, 100)
	ctx := context.Background()

	mm.RecordSimple("domagent.event.applied", 1, "count")
	mm.Record(&Metric{Name: "domagent.request.duration_ms", Value: 12, Unit: "milliseconds",
		Labels: map[string]string{"op": "set_attribute"}})
	mm.Flush()

	all, err := mm.Query(ctx, "", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d metrics, want 2", len(all))
	}

	got, err := mm.Query(ctx, "domagent.request.duration_ms", time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d, want 1", len(got))
	}
	if got[0].Value != 12 || got[0].Labels["op"] != "set_attribute" {
		t.Errorf("metric = %+v", got[0])
	}
}

func TestMetricsManager_FlushesWhenFull(t *testing.T) {
	mm := testManager(t, 3)
	for i := 0; i < 3; i++ {
		mm.RecordSimple("m", float64(i), "count")
	}
	got, err := mm.Query(context.Background(), "m", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3 flushed without an explicit Flush", len(got))
	}
}

func TestMetricsManager_CloseFlushes(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	mm.RecordSimple("m", 1, "count")
	mm.Close()
	mm.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	mm := testManager(t, 100)
	ctx := context.Background()
	mm.Record(&Metric{Name: "old", Timestamp: time.Now().Add(-48 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "new", Timestamp: time.Now(), Value: 1})
	mm.Flush()

	n, err := mm.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
}

func TestMetricsManager_NilIsNoop(t *testing.T) {
	var mm *MetricsManager
	mm.RecordSimple("x", 1, "count")
	mm.Flush()
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}
	mm.SampleRuntime(context.Background(), time.Second)
}

func TestCollectRuntimeStats(t *testing.T) {
	s := CollectRuntimeStats()
	if s.Goroutines < 1 {
		t.Errorf("goroutines = %d", s.Goroutines)
	}
	if s.MemoryAllocMB <= 0 {
		t.Errorf("alloc = %f", s.MemoryAllocMB)
	}
}
