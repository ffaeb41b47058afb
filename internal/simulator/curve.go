package simulator

import (
	"math"
	"math/rand/v2"
	"time"
)

// Roast phase boundaries in seconds since charge.
const (
	dryingEnd      = 240.0
	maillardEnd    = 480.0
	developmentEnd = 660.0
)

// reading is one synthetic roaster measurement.
type reading struct {
	TS       time.Time
	BtC      float64
	EtC      float64
	PowerPct float64
	FanPct   float64
	DrumRpm  float64
	Phase    string
}

// curve produces a plausible roast: bean temperature dips to a turning
// point after charge, then climbs towards the environment temperature.
// After development the roaster drops the batch and cools.
type curve struct {
	rng  *rand.Rand
	step time.Duration
	t    float64 // seconds since charge
}

func newCurve(rng *rand.Rand, step time.Duration) *curve {
	return &curve{rng: rng, step: step}
}

func (c *curve) next(now time.Time) reading {
	t := c.t
	c.t += c.step.Seconds()
	if c.t > developmentEnd+120 {
		c.t = 0
	}

	r := reading{TS: now, DrumRpm: 60, FanPct: 35, PowerPct: 80}
	switch {
	case t < dryingEnd:
		r.Phase = "drying"
	case t < maillardEnd:
		r.Phase = "maillard"
		r.PowerPct, r.FanPct = 70, 45
	case t < developmentEnd:
		r.Phase = "development"
		r.PowerPct, r.FanPct = 55, 60
	default:
		r.Phase = "cooling"
		r.PowerPct, r.FanPct, r.DrumRpm = 0, 100, 40
	}

	r.EtC = 230 - 20*math.Exp(-t/120)
	if r.Phase == "cooling" {
		cool := t - developmentEnd
		r.EtC = 40 + (r.EtC-40)*math.Exp(-cool/30)
		r.BtC = 25 + (beanTemp(developmentEnd)-25)*math.Exp(-cool/20)
	} else {
		r.BtC = beanTemp(t)
	}

	r.BtC = round1(r.BtC + c.rng.NormFloat64()*0.3)
	r.EtC = round1(r.EtC + c.rng.NormFloat64()*0.5)
	return r
}

// beanTemp falls from the 200C charge to a turning point near 90C around
// the one-minute mark, then rises towards 225C.
func beanTemp(t float64) float64 {
	rise := 225 - 140*math.Exp(-t/260)
	dip := 115 * math.Exp(-t/25)
	return rise + dip - 25*(1-math.Exp(-t/25))*math.Exp(-t/400)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
