package ops

import (
	"runtime"
	"time"
)

// SystemStats contains process-level runtime statistics for the
// diagnostics dump.
type SystemStats struct {
	Version   string
	Commit    string
	Uptime    time.Duration
	StartTime time.Time

	GoVersion       string
	NumGoroutines   int
	MemAllocMB      float64
	MemTotalAllocMB float64
	MemSysMB        float64
	NumGC           uint32
}

// CollectSystemStats snapshots the Go runtime.
func CollectSystemStats(version, commit string, start time.Time) SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemStats{
		Version:         version,
		Commit:          commit,
		Uptime:          time.Since(start),
		StartTime:       start,
		GoVersion:       runtime.Version(),
		NumGoroutines:   runtime.NumGoroutine(),
		MemAllocMB:      float64(mem.Alloc) / 1024 / 1024,
		MemTotalAllocMB: float64(mem.TotalAlloc) / 1024 / 1024,
		MemSysMB:        float64(mem.Sys) / 1024 / 1024,
		NumGC:           mem.NumGC,
	}
}

// LogTo writes the snapshot through the structured logger.
func (s SystemStats) LogTo(l *Logger) {
	l.Info("system stats",
		"version", s.Version,
		"uptime_s", int(s.Uptime.Seconds()),
		"goroutines", s.NumGoroutines,
		"heap_mb", s.MemAllocMB,
		"sys_mb", s.MemSysMB,
		"gc_runs", s.NumGC)
}
