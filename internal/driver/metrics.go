package driver

import (
	"math"
	"sync"
	"time"

	"tcpline/internal/telemetry"
)

// Metrics are the driver's counters and last-seen fields. Counters saturate
// at math.MaxUint64 instead of wrapping.
type Metrics struct {
	LinesReceived    uint64  `json:"linesReceived"`
	LinesParsed      uint64  `json:"linesParsed"`
	ParseErrors      uint64  `json:"parseErrors"`
	TelemetryEmitted uint64  `json:"telemetryEmitted"`
	Reconnects       uint64  `json:"reconnects"`
	LastError        *string `json:"lastError,omitempty"`
	// LastLineAt is the timestamp of the last accepted sample.
	LastLineAt *string `json:"lastLineAt,omitempty"`
}

type metricsCell struct {
	mu sync.Mutex
	m  Metrics
}

func saturatingInc(n *uint64) {
	if *n < math.MaxUint64 {
		*n++
	}
}

func (c *metricsCell) snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.m
	m.LastError = copyString(c.m.LastError)
	m.LastLineAt = copyString(c.m.LastLineAt)
	return m
}

func (c *metricsCell) lineReceived() {
	c.mu.Lock()
	saturatingInc(&c.m.LinesReceived)
	c.mu.Unlock()
}

func (c *metricsCell) sampleAccepted(ts time.Time) {
	at := telemetry.FormatTS(ts)
	c.mu.Lock()
	saturatingInc(&c.m.LinesParsed)
	c.m.LastLineAt = &at
	c.mu.Unlock()
}

func (c *metricsCell) parseError(err error) {
	msg := err.Error()
	c.mu.Lock()
	saturatingInc(&c.m.ParseErrors)
	c.m.LastError = &msg
	c.mu.Unlock()
}

func (c *metricsCell) telemetryEmitted() {
	c.mu.Lock()
	saturatingInc(&c.m.TelemetryEmitted)
	c.mu.Unlock()
}

func (c *metricsCell) reconnect() {
	c.mu.Lock()
	saturatingInc(&c.m.Reconnects)
	c.mu.Unlock()
}

func (c *metricsCell) setLastError(msg string) {
	c.mu.Lock()
	c.m.LastError = &msg
	c.mu.Unlock()
}

func (c *metricsCell) clearLastError() {
	c.mu.Lock()
	c.m.LastError = nil
	c.mu.Unlock()
}

func (c *metricsCell) lastError() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m.LastError == nil {
		return "", false
	}
	return *c.m.LastError, true
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
