package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricReadsAreSafeDuringWrites(t *testing.T) {
	run := newRun(&TestCase{ID: "racy"})

	// A timed-out body is abandoned, not awaited, so it can still be
	// recording metrics while an extension reads them.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			run.SetMetric("p99_latency_ms", float64(i))
		}
	}()
	for i := 0; i < 1000; i++ {
		run.Metric("p99_latency_ms")
	}
	<-done

	value, ok := run.Metric("p99_latency_ms")
	assert.True(t, ok)
	assert.Equal(t, 999.0, value)

	_, ok = run.Metric("unknown")
	assert.False(t, ok)
}
