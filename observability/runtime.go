package observability

import (
	"context"
	"runtime"
	"time"
)

// RuntimeStats is a sample of Go process health.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemorySysMB   float64 `json:"memory_sys_mb"`
	GCCount       uint32  `json:"gc_count"`
}

// CollectRuntimeStats reads the current runtime stats.
func CollectRuntimeStats() RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeStats{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:   float64(mem.Sys) / 1024 / 1024,
		GCCount:       mem.NumGC,
	}
}

// SampleRuntime records runtime stats every interval until ctx is done.
// A browser that leaks targets shows up here first as goroutine growth.
func (mm *MetricsManager) SampleRuntime(ctx context.Context, interval time.Duration) {
	if mm == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := CollectRuntimeStats()
			now := time.Now()
			mm.Record(&Metric{Name: "runtime.goroutines", Timestamp: now, Value: float64(s.Goroutines), Unit: "count"})
			mm.Record(&Metric{Name: "runtime.memory_alloc_mb", Timestamp: now, Value: s.MemoryAllocMB, Unit: "megabytes"})
			mm.Record(&Metric{Name: "runtime.gc_count", Timestamp: now, Value: float64(s.GCCount), Unit: "count"})
		}
	}
}
