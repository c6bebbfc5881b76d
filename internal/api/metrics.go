package api

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats ресурсы процесса сервера
type ProcessStats struct {
	Uptime      string  `json:"uptime"`
	UptimeSec   int64   `json:"uptime_seconds"`
	CPUPercent  float64 `json:"cpu_percent"`
	RSSMB       float64 `json:"rss_mb"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	Goroutines  int     `json:"goroutines"`
}

// processMetrics снимает показатели текущего процесса через gopsutil
type processMetrics struct {
	started time.Time
	proc    *process.Process
}

func newProcessMetrics() *processMetrics {
	pm := &processMetrics{started: time.Now()}
	// без доступа к /proc остаются только показатели рантайма
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		pm.proc = p
	}
	return pm
}

func (pm *processMetrics) collect() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(pm.started).Truncate(time.Second)
	st := ProcessStats{
		Uptime:      uptime.String(),
		UptimeSec:   int64(uptime.Seconds()),
		HeapAllocMB: float64(m.HeapAlloc) / 1024 / 1024,
		NumGC:       m.NumGC,
		Goroutines:  runtime.NumGoroutine(),
	}
	if pm.proc == nil {
		return st
	}
	if cpu, err := pm.proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := pm.proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSMB = float64(mem.RSS) / 1024 / 1024
	}
	return st
}
