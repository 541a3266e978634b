package common

import (
	"fmt"
	"runtime"
)

// MemoryStats is the subset of runtime memory statistics reported by health checks.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc_bytes"`
	HeapInuse  uint64 `json:"heap_inuse_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// GetMemoryStats samples the runtime.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Heap: %d KB, Sys: %d KB, GC: %d, goroutines: %d",
		m.Alloc/1024, m.HeapInuse/1024, m.Sys/1024, m.NumGC, m.Goroutines)
}
