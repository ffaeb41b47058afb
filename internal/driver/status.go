package driver

// Status is a point-in-time view of the driver.
type Status struct {
	State State `json:"state"`
	// Terminal is set once the driver will not connect again on its own:
	// it is STOPPED, or it dropped with reconnection disabled. In the
	// latter case State stays DISCONNECTED.
	Terminal bool    `json:"terminal"`
	Metrics  Metrics `json:"metrics"`
}

// Status returns the current state and a copy of the metrics. State and
// metrics are read separately and may be momentarily skewed.
func (d *Driver) Status() Status {
	return Status{
		State:    d.state.current(),
		Terminal: d.isTerminal(),
		Metrics:  d.metrics.snapshot(),
	}
}

// isTerminal reports whether the driver will not connect again without a
// new Connect call (or at all, once STOPPED).
func (d *Driver) isTerminal() bool {
	switch d.state.current() {
	case StateStopped:
		return true
	case StateDisconnected:
		return !d.cfg.Reconnect.Enabled && d.loopFinished()
	}
	return false
}
