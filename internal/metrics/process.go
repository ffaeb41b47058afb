package metrics

import (
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// processCollector reports CPU usage since the previous scrape and the
// memory actively in use by the Go runtime.
type processCollector struct {
	cpu    *prometheus.Desc
	memory *prometheus.Desc

	mu       sync.Mutex
	now      func() time.Time
	usage    func() time.Duration
	lastWall time.Time
	lastCPU  time.Duration
	lastPct  float64
}

// NewProcessCollector returns a collector for the current process.
func NewProcessCollector(machineID string) prometheus.Collector {
	return newProcessCollector(machineID, time.Now, rusageCPU)
}

func newProcessCollector(machineID string, now func() time.Time, usage func() time.Duration) *processCollector {
	labels := prometheus.Labels{"machine_id": machineID}
	return &processCollector{
		cpu: prometheus.NewDesc("tcpline_process_cpu_percent",
			"Process CPU usage since the previous scrape. Multi-core processes can exceed 100.", nil, labels),
		memory: prometheus.NewDesc("tcpline_process_memory_inuse_bytes",
			"Heap and stack memory in use by the Go runtime.", nil, labels),
		now:      now,
		usage:    usage,
		lastWall: now(),
		lastCPU:  usage(),
	}
}

func (c *processCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.memory
}

func (c *processCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, c.cpuPercent())
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(memoryInuse()))
}

func (c *processCollector) cpuPercent() float64 {
	now := c.now()
	used := c.usage()

	c.mu.Lock()
	defer c.mu.Unlock()

	wall := now.Sub(c.lastWall)
	if wall <= 0 {
		return c.lastPct
	}
	c.lastPct = float64(used-c.lastCPU) / float64(wall) * 100
	c.lastWall = now
	c.lastCPU = used
	return c.lastPct
}

// memoryInuse is HeapInuse plus StackInuse, excluding address space
// reserved but not committed.
func memoryInuse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse + m.StackInuse
}

func rusageCPU() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}
