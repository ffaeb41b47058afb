package simulator

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"tcpline/internal/telemetry"
)

var csvColumns = []string{"ts", "btC", "etC", "powerPct", "fanPct", "drumRpm", "phase"}

// jsonLine has the field order the endpoint puts on the wire.
type jsonLine struct {
	TS       string  `json:"ts"`
	BtC      float64 `json:"btC"`
	EtC      float64 `json:"etC"`
	PowerPct float64 `json:"powerPct"`
	FanPct   float64 `json:"fanPct"`
	DrumRpm  float64 `json:"drumRpm"`
	Phase    string  `json:"phase"`
}

func formatJSON(r reading) string {
	b, _ := json.Marshal(jsonLine{
		TS:       telemetry.FormatTS(r.TS),
		BtC:      r.BtC,
		EtC:      r.EtC,
		PowerPct: r.PowerPct,
		FanPct:   r.FanPct,
		DrumRpm:  r.DrumRpm,
		Phase:    r.Phase,
	})
	return string(b)
}

func formatCSV(r reading, delim string) string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return strings.Join([]string{
		telemetry.FormatTS(r.TS),
		num(r.BtC),
		num(r.EtC),
		num(r.PowerPct),
		num(r.FanPct),
		num(r.DrumRpm),
		r.Phase,
	}, delim)
}

func csvHeader(delim string) string {
	return strings.Join(csvColumns, delim)
}

// garbage returns a line the client must reject as malformed.
func garbage(format string, now time.Time) string {
	if format == "csv" {
		return "not-a-timestamp,1,2"
	}
	return `{"ts":"` + telemetry.FormatTS(now) + `","btC":`
}
