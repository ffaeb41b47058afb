package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProcessCPUPercent(t *testing.T) {
	wall := time.Unix(0, 0)
	var cpu time.Duration
	c := newProcessCollector("m", func() time.Time { return wall }, func() time.Duration { return cpu })

	wall = wall.Add(time.Second)
	cpu = 1500 * time.Millisecond
	if got := c.cpuPercent(); got != 150 {
		t.Fatalf("cpu = %v, want 150", got)
	}

	// No wall time elapsed: the previous value is repeated.
	if got := c.cpuPercent(); got != 150 {
		t.Fatalf("cpu = %v, want cached 150", got)
	}

	wall = wall.Add(2 * time.Second)
	cpu += 500 * time.Millisecond
	if got := c.cpuPercent(); got != 25 {
		t.Fatalf("cpu = %v, want 25", got)
	}
}

func TestProcessCollectorExports(t *testing.T) {
	c := NewProcessCollector("m")
	if n := testutil.CollectAndCount(c, "tcpline_process_cpu_percent", "tcpline_process_memory_inuse_bytes"); n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}
}
