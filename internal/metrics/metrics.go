// Package metrics provides system metric sampling, background monitoring
// and statistical aggregation for crucible's system and performance
// lifecycle extensions.
package metrics

import (
	"math"
	"runtime"
	"time"
)

// Sample is one point-in-time observation of system metrics. Samples are
// appended to a time-ordered history by the background monitor.
type Sample struct {
	// CPUPercent is the observed CPU utilization, 0-100
	CPUPercent float64 `json:"cpu_percent"`
	// MemoryPercent is the observed memory utilization, 0-100
	MemoryPercent float64 `json:"memory_percent"`
	// DiskReadBytes and DiskWriteBytes are cumulative I/O counters
	DiskReadBytes  uint64 `json:"disk_read_bytes"`
	DiskWriteBytes uint64 `json:"disk_write_bytes"`
	// NetSentBytes and NetRecvBytes are cumulative I/O counters
	NetSentBytes uint64 `json:"net_sent_bytes"`
	NetRecvBytes uint64 `json:"net_recv_bytes"`
	// ProcessCount is the number of concurrent units of work observed
	ProcessCount int `json:"process_count"`
	// Timestamp when the sample was taken
	Timestamp time.Time `json:"timestamp"`
	// Custom holds extension-defined measurements
	Custom map[string]float64 `json:"custom,omitempty"`
}

// Value returns the named metric from the sample. Well-known names map to
// the struct fields; anything else is looked up in Custom.
func (s Sample) Value(name string) (float64, bool) {
	switch name {
	case "cpu_percent":
		return s.CPUPercent, true
	case "memory_percent":
		return s.MemoryPercent, true
	case "disk_read_bytes":
		return float64(s.DiskReadBytes), true
	case "disk_write_bytes":
		return float64(s.DiskWriteBytes), true
	case "net_sent_bytes":
		return float64(s.NetSentBytes), true
	case "net_recv_bytes":
		return float64(s.NetRecvBytes), true
	case "process_count":
		return float64(s.ProcessCount), true
	}
	v, ok := s.Custom[name]
	return v, ok
}

// Source produces metric samples. The concrete system backend is an
// external collaborator; RuntimeSource is the in-process default.
type Source interface {
	Sample() (Sample, error)
}

// RuntimeSource samples the current process using the Go runtime. It has no
// visibility into host-wide CPU, so CPUPercent approximates load as the
// ratio of runnable goroutines to CPUs.
type RuntimeSource struct{}

// Sample implements Source.
func (RuntimeSource) Sample() (Sample, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	memPercent := 0.0
	if mem.Sys > 0 {
		memPercent = float64(mem.HeapAlloc) / float64(mem.Sys) * 100
	}
	cpuPercent := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()) * 100
	if cpuPercent > 100 {
		cpuPercent = 100
	}

	return Sample{
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		ProcessCount:  runtime.NumGoroutine(),
		Timestamp:     time.Now(),
	}, nil
}

// Stats are the aggregates computed over a series of observations.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Count  int     `json:"count"`
}

// Aggregate computes min/max/mean/stddev over the given values.
// An empty input yields zero-valued stats.
func Aggregate(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	s := Stats{Min: values[0], Max: values[0], Count: len(values)}
	sum := 0.0
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - s.Mean
		variance += d * d
	}
	s.StdDev = math.Sqrt(variance / float64(len(values)))
	return s
}

// Extract pulls the named metric out of each sample, skipping samples where
// it is absent.
func Extract(history []Sample, name string) []float64 {
	values := make([]float64, 0, len(history))
	for _, sample := range history {
		if v, ok := sample.Value(name); ok {
			values = append(values, v)
		}
	}
	return values
}
