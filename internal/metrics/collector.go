// Package metrics exports driver status as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tcpline/internal/driver"
)

// StatusSource is anything that reports driver status. *driver.Driver
// satisfies it.
type StatusSource interface {
	Status() driver.Status
}

var states = []driver.State{
	driver.StateDisconnected,
	driver.StateConnecting,
	driver.StateConnected,
	driver.StateStopped,
}

type collector struct {
	src StatusSource

	linesReceived    *prometheus.Desc
	linesParsed      *prometheus.Desc
	parseErrors      *prometheus.Desc
	telemetryEmitted *prometheus.Desc
	reconnects       *prometheus.Desc
	state            *prometheus.Desc
	terminal         *prometheus.Desc
}

// NewCollector returns a collector that reads src.Status() on every scrape.
// Every metric carries a constant machine_id label.
func NewCollector(src StatusSource, machineID string) prometheus.Collector {
	labels := prometheus.Labels{"machine_id": machineID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, variable, labels)
	}
	return &collector{
		src:              src,
		linesReceived:    desc("tcpline_lines_received_total", "Lines read from the endpoint, including malformed ones."),
		linesParsed:      desc("tcpline_lines_parsed_total", "Samples accepted after parsing and deduplication."),
		parseErrors:      desc("tcpline_parse_errors_total", "Lines rejected as malformed."),
		telemetryEmitted: desc("tcpline_telemetry_emitted_total", "Telemetry points returned to readers."),
		reconnects:       desc("tcpline_reconnects_total", "Reconnection attempts after a failed or dropped connection."),
		state:            desc("tcpline_state", "1 for the driver's current connection state, 0 otherwise.", "state"),
		terminal:         desc("tcpline_terminal", "1 once the driver will not reconnect on its own."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.linesReceived
	ch <- c.linesParsed
	ch <- c.parseErrors
	ch <- c.telemetryEmitted
	ch <- c.reconnects
	ch <- c.state
	ch <- c.terminal
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	m := st.Metrics

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.linesReceived, m.LinesReceived)
	counter(c.linesParsed, m.LinesParsed)
	counter(c.parseErrors, m.ParseErrors)
	counter(c.telemetryEmitted, m.TelemetryEmitted)
	counter(c.reconnects, m.Reconnects)

	for _, s := range states {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, boolValue(st.State == s), string(s))
	}
	ch <- prometheus.MustNewConstMetric(c.terminal, prometheus.GaugeValue, boolValue(st.Terminal))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves the metrics gathered from reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
