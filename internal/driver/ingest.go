package driver

import (
	"strings"

	"tcpline/internal/telemetry"
)

// handleLine runs one raw line through the parser and, when it yields a
// sample, the acceptance policy. Parse errors are counted and recorded but
// never end the connection.
func (d *Driver) handleLine(line string) {
	d.metrics.lineReceived()
	line = strings.TrimRight(line, "\r\n")

	d.mu.Lock()
	sample, err := d.parser.Parse(line, d.now())
	accepted := false
	if err == nil && sample != nil {
		accepted = d.acceptLocked(sample)
	}
	d.mu.Unlock()

	if err != nil {
		d.metrics.parseError(err)
		if d.parseLogLimit.Allow() {
			d.logger.Warn("discarding unparsable line", "error", err, "line", truncate(line, 120))
		}
		return
	}
	if accepted {
		d.metrics.sampleAccepted(sample.TS)
		d.sampleChanged.Notify()
	}
}

// acceptLocked applies deduplication against the latest accepted sample and
// stores s when it passes. The first sample of a connection becomes the
// elapsed-time origin. d.mu must be held.
func (d *Driver) acceptLocked(s *telemetry.Sample) bool {
	if d.latest != nil && d.dedupeWindowMs > 0 {
		delta := s.TS.Sub(d.latest.TS).Milliseconds()
		if delta < d.dedupeWindowMs {
			return false
		}
	}
	d.latest = s
	d.seq++
	if d.origin == nil {
		ts := s.TS
		d.origin = &ts
	}
	return true
}

// resetConnection clears everything scoped to one connection.
func (d *Driver) resetConnection() {
	d.mu.Lock()
	d.parser.Reset()
	d.latest = nil
	d.origin = nil
	d.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
