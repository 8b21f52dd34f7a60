package common

import (
	"fmt"
	"runtime"
	"sort"
	"time"
)

// MemoryStats is the subset of runtime.MemStats a benchmark reports.
type MemoryStats struct {
	Alloc      uint64
	TotalAlloc uint64
	Sys        uint64
	Mallocs    uint64
	NumGC      uint32
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		Mallocs:    m.Mallocs,
		NumGC:      m.NumGC,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Sys/1024, m.NumGC)
}

// BenchmarkResult holds per-iteration latencies and memory deltas of a run.
type BenchmarkResult struct {
	Name         string          `json:"name"`
	Iterations   int             `json:"iterations"`
	Failures     int             `json:"failures"`
	Duration     time.Duration   `json:"duration_ns"`
	Latencies    []time.Duration `json:"-"`
	MemoryBefore MemoryStats     `json:"-"`
	MemoryAfter  MemoryStats     `json:"-"`
	Error        error           `json:"-"`
}

// Benchmark runs fn warmup times untimed and then iterations times timed.
// The first error stops the run unless keepGoing is set, in which case
// failures are counted and the last error is kept.
func Benchmark(name string, warmup, iterations int, keepGoing bool, fn func(i int) error) BenchmarkResult {
	res := BenchmarkResult{Name: name}
	for i := 0; i < warmup; i++ {
		if err := fn(i); err != nil && !keepGoing {
			res.Error = fmt.Errorf("warmup %d: %w", i, err)
			return res
		}
	}

	runtime.GC()
	res.MemoryBefore = GetMemoryStats()
	res.Latencies = make([]time.Duration, 0, iterations)
	sw := StartStopwatch()
	for i := 0; i < iterations; i++ {
		start := time.Now()
		err := fn(i)
		res.Latencies = append(res.Latencies, time.Since(start))
		res.Iterations++
		if err != nil {
			res.Failures++
			res.Error = err
			if !keepGoing {
				break
			}
		}
	}
	res.Duration = sw.Elapsed()
	res.MemoryAfter = GetMemoryStats()
	return res
}

// Mean is the average iteration latency.
func (br BenchmarkResult) Mean() time.Duration {
	if br.Iterations == 0 {
		return 0
	}
	return br.Duration / time.Duration(br.Iterations)
}

// Percentile returns the p-th percentile latency, p in [0,100], using the
// nearest-rank method.
func (br BenchmarkResult) Percentile(p float64) time.Duration {
	if len(br.Latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(br.Latencies))
	copy(sorted, br.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Throughput is iterations per second over the timed run.
func (br BenchmarkResult) Throughput() float64 {
	if br.Duration <= 0 {
		return 0
	}
	return float64(br.Iterations) / br.Duration.Seconds()
}

// AllocsPerOp is the number of heap allocations per iteration.
func (br BenchmarkResult) AllocsPerOp() uint64 {
	if br.Iterations == 0 || br.MemoryAfter.Mallocs < br.MemoryBefore.Mallocs {
		return 0
	}
	return (br.MemoryAfter.Mallocs - br.MemoryBefore.Mallocs) / uint64(br.Iterations) //nolint:gosec // G115: Iterations is positive
}

func (br BenchmarkResult) String() string {
	if br.Error != nil && br.Failures == 0 {
		return fmt.Sprintf("%s: ERROR - %v", br.Name, br.Error)
	}

	allocated := br.MemoryAfter.TotalAlloc - br.MemoryBefore.TotalAlloc
	s := fmt.Sprintf("%s: %d iterations, avg: %v, p95: %v, %.1f/s, alloc: %d KB",
		br.Name, br.Iterations, br.Mean(), br.Percentile(95), br.Throughput(), allocated/1024)
	if br.Failures > 0 {
		s += fmt.Sprintf(", failures: %d", br.Failures)
	}
	return s
}
