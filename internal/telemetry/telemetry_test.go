package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func TestFormatTS(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-01-01T00:00:00.000Z"},
		{time.Date(2024, 1, 1, 1, 0, 1, 234_567_000, loc), "2024-01-01T00:00:01.234Z"},
	}
	for _, tt := range tests {
		if got := FormatTS(tt.in); got != tt.want {
			t.Errorf("FormatTS(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewPointElapsed(t *testing.T) {
	origin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ts   time.Time
		want float64
	}{
		{"origin", origin, 0},
		{"one second", origin.Add(time.Second), 1},
		{"sub-second", origin.Add(1500 * time.Millisecond), 1.5},
		{"before origin clamps", origin.Add(-3 * time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPoint(Sample{TS: tt.ts}, "m1", origin)
			if p.ElapsedSeconds != tt.want {
				t.Errorf("ElapsedSeconds = %v, want %v", p.ElapsedSeconds, tt.want)
			}
		})
	}
}

func TestNewPointChannels(t *testing.T) {
	s := Sample{
		TS:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BtC:      f(12),
		PowerPct: f(80),
		Extras:   []Extra{TextExtra("phase", "drying")},
	}
	p := NewPoint(s, "roaster-1", s.TS)
	if p.MachineID != "roaster-1" {
		t.Errorf("MachineID = %q", p.MachineID)
	}
	if p.BtC == nil || *p.BtC != 12 {
		t.Errorf("BtC = %v", p.BtC)
	}
	if p.EtC != nil {
		t.Errorf("EtC = %v, want nil", *p.EtC)
	}
	if p.GasPct == nil || *p.GasPct != 80 {
		t.Errorf("GasPct = %v, want powerPct 80", p.GasPct)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	js := string(data)
	for _, want := range []string{`"ts":"2024-01-01T00:00:00.000Z"`, `"machineId":"roaster-1"`, `"gasPct":80`, `"textValue":"drying"`} {
		if !strings.Contains(js, want) {
			t.Errorf("json %s missing %s", js, want)
		}
	}
	if strings.Contains(js, "etC") {
		t.Errorf("json %s should omit absent etC", js)
	}
}

func TestHasData(t *testing.T) {
	if (&Sample{}).HasData() {
		t.Error("empty sample should carry no data")
	}
	if !(&Sample{FanPct: f(1)}).HasData() {
		t.Error("channel should count as data")
	}
	if !(&Sample{Extras: []Extra{NumberExtra("x", 1)}}).HasData() {
		t.Error("extra should count as data")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	s := Sample{BtC: f(1), Extras: []Extra{NumberExtra("x", 2)}}
	c := s.Clone()
	*c.BtC = 100
	*c.Extras[0].Number = 200
	if *s.BtC != 1 || *s.Extras[0].Number != 2 {
		t.Fatal("Clone shares storage with the original")
	}
}

func TestIsReserved(t *testing.T) {
	for _, k := range []string{"ts", "btC", "etC", "powerPct", "fanPct", "drumRpm"} {
		if !IsReserved(k) {
			t.Errorf("IsReserved(%q) = false", k)
		}
	}
	for _, k := range []string{"BTC", "gasPct", "phase", ""} {
		if IsReserved(k) {
			t.Errorf("IsReserved(%q) = true", k)
		}
	}
}
