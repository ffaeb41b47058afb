package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tcpline/internal/driver"
)

type fixedStatus driver.Status

func (f *fixedStatus) Status() driver.Status { return driver.Status(*f) }

func TestCollectorReportsStatus(t *testing.T) {
	src := &fixedStatus{
		State: driver.StateConnected,
		Metrics: driver.Metrics{
			LinesReceived:    10,
			LinesParsed:      7,
			ParseErrors:      3,
			TelemetryEmitted: 5,
			Reconnects:       2,
		},
	}
	c := NewCollector(src, "roaster-1")

	expected := `
# HELP tcpline_lines_received_total Lines read from the endpoint, including malformed ones.
# TYPE tcpline_lines_received_total counter
tcpline_lines_received_total{machine_id="roaster-1"} 10
# HELP tcpline_parse_errors_total Lines rejected as malformed.
# TYPE tcpline_parse_errors_total counter
tcpline_parse_errors_total{machine_id="roaster-1"} 3
# HELP tcpline_reconnects_total Reconnection attempts after a failed or dropped connection.
# TYPE tcpline_reconnects_total counter
tcpline_reconnects_total{machine_id="roaster-1"} 2
# HELP tcpline_state 1 for the driver's current connection state, 0 otherwise.
# TYPE tcpline_state gauge
tcpline_state{machine_id="roaster-1",state="CONNECTED"} 1
tcpline_state{machine_id="roaster-1",state="CONNECTING"} 0
tcpline_state{machine_id="roaster-1",state="DISCONNECTED"} 0
tcpline_state{machine_id="roaster-1",state="STOPPED"} 0
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"tcpline_lines_received_total", "tcpline_parse_errors_total", "tcpline_reconnects_total", "tcpline_state")
	if err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(c); n != 10 {
		t.Fatalf("expected 10 samples, got %d", n)
	}
}

func TestCollectorReadsAtScrapeTime(t *testing.T) {
	src := &fixedStatus{State: driver.StateConnecting}
	c := NewCollector(src, "m")

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	src.State = driver.StateStopped
	src.Terminal = true
	src.Metrics.LinesParsed = 4

	if got, err := testutil.GatherAndCount(reg, "tcpline_lines_parsed_total"); err != nil || got != 1 {
		t.Fatalf("GatherAndCount = %d, %v", got, err)
	}

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`tcpline_lines_parsed_total{machine_id="m"} 4`,
		`tcpline_state{machine_id="m",state="STOPPED"} 1`,
		`tcpline_terminal{machine_id="m"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
