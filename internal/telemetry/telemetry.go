// Package telemetry defines the canonical sample produced by the line parser
// and the telemetry point handed to consumers.
package telemetry

import "time"

// Reserved wire field names. Every other field is carried as an Extra.
const (
	FieldTS       = "ts"
	FieldBtC      = "btC"
	FieldEtC      = "etC"
	FieldPowerPct = "powerPct"
	FieldFanPct   = "fanPct"
	FieldDrumRpm  = "drumRpm"
)

// IsReserved reports whether key names a channel or the timestamp.
func IsReserved(key string) bool {
	switch key {
	case FieldTS, FieldBtC, FieldEtC, FieldPowerPct, FieldFanPct, FieldDrumRpm:
		return true
	}
	return false
}

// Sample is one normalized telemetry record. BtC and EtC already include
// the configured calibration offsets.
type Sample struct {
	TS       time.Time
	BtC      *float64
	EtC      *float64
	PowerPct *float64
	FanPct   *float64
	DrumRpm  *float64
	Extras   []Extra
}

// HasChannels reports whether any numeric channel is populated.
func (s *Sample) HasChannels() bool {
	return s.BtC != nil || s.EtC != nil || s.PowerPct != nil || s.FanPct != nil || s.DrumRpm != nil
}

// HasData reports whether the sample carries any information at all.
func (s *Sample) HasData() bool {
	return s.HasChannels() || len(s.Extras) > 0
}

// Extra is a pass-through field. Exactly one of Number and Text is set.
type Extra struct {
	Key    string   `json:"key"`
	Number *float64 `json:"numberValue,omitempty"`
	Text   *string  `json:"textValue,omitempty"`
}

// NumberExtra builds a numeric extra.
func NumberExtra(key string, v float64) Extra {
	return Extra{Key: key, Number: &v}
}

// TextExtra builds a text extra.
func TextExtra(key, v string) Extra {
	return Extra{Key: key, Text: &v}
}

// Point is the telemetry record returned to consumers.
type Point struct {
	TS             string   `json:"ts"`
	MachineID      string   `json:"machineId"`
	ElapsedSeconds float64  `json:"elapsedSeconds"`
	BtC            *float64 `json:"btC,omitempty"`
	EtC            *float64 `json:"etC,omitempty"`
	// GasPct carries the sample's powerPct channel.
	GasPct  *float64 `json:"gasPct,omitempty"`
	FanPct  *float64 `json:"fanPct,omitempty"`
	DrumRpm *float64 `json:"drumRpm,omitempty"`
	Extras  []Extra  `json:"extras,omitempty"`
}

// NewPoint converts s into a Point for machineID. origin is the timestamp of
// the first sample accepted on the current connection; elapsed time is
// clamped at zero when s predates it.
func NewPoint(s Sample, machineID string, origin time.Time) Point {
	elapsedMs := max(s.TS.Sub(origin).Milliseconds(), 0)
	return Point{
		TS:             FormatTS(s.TS),
		MachineID:      machineID,
		ElapsedSeconds: float64(elapsedMs) / 1000,
		BtC:            s.BtC,
		EtC:            s.EtC,
		GasPct:         s.PowerPct,
		FanPct:         s.FanPct,
		DrumRpm:        s.DrumRpm,
		Extras:         s.Extras,
	}
}

// tsLayout is RFC 3339 with exactly three fractional digits.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTS renders t in UTC with millisecond precision, e.g.
// 2024-01-01T00:00:01.000Z.
func FormatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// Clone returns a deep copy of s, so the copy can leave a critical section
// without aliasing the stored sample.
func (s Sample) Clone() Sample {
	out := s
	out.BtC = clonePtr(s.BtC)
	out.EtC = clonePtr(s.EtC)
	out.PowerPct = clonePtr(s.PowerPct)
	out.FanPct = clonePtr(s.FanPct)
	out.DrumRpm = clonePtr(s.DrumRpm)
	if s.Extras != nil {
		out.Extras = make([]Extra, len(s.Extras))
		for i, e := range s.Extras {
			out.Extras[i] = Extra{Key: e.Key, Number: clonePtr(e.Number), Text: clonePtr(e.Text)}
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
