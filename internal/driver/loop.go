package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// phase is where the background goroutine is in one connection cycle.
type phase int

const (
	phaseDial phase = iota
	phaseRead
	phaseEnded
	phaseBackoff
	phaseExit
)

// cycle carries what one phase hands to the next.
type cycle struct {
	phase phase
	conn  net.Conn
	// reason is the failure that ended the connection; empty when the
	// connection was ended by a stop request.
	reason string
}

// outcome is the policy decision taken after a connection ends.
type outcome int

const (
	outcomeRetry outcome = iota
	// outcomeStop: a stop was requested; the driver ends STOPPED.
	outcomeStop
	// outcomeTerminal: reconnection is disabled; the driver ends
	// DISCONNECTED and stays there until the next Connect.
	outcomeTerminal
)

// afterConnectionEnd decides between retrying and exiting. A stop request
// always wins over the reconnect policy.
func afterConnectionEnd(stopRequested, reconnectEnabled bool) outcome {
	switch {
	case stopRequested:
		return outcomeStop
	case !reconnectEnabled:
		return outcomeTerminal
	default:
		return outcomeRetry
	}
}

// run is the background goroutine: one transition per iteration until
// phaseExit.
func (d *Driver) run(ctx context.Context, done chan struct{}) {
	d.logger.Info("driver started")
	c := cycle{phase: phaseDial}
	for c.phase != phaseExit {
		c = d.step(ctx, c)
	}

	if d.stopped.Load() {
		d.state.fire(eventStop)
	}
	close(done)
	// Terminal conditions depend on the goroutine having exited; wake
	// everyone so they re-check.
	d.stateChanged.Notify()
	d.sampleChanged.Notify()
	d.logger.Info("driver loop exited", "state", d.state.current())
}

// step performs the work of c.phase and returns the next cycle.
func (d *Driver) step(ctx context.Context, c cycle) cycle {
	switch c.phase {
	case phaseDial:
		if d.stopped.Load() {
			return cycle{phase: phaseEnded}
		}
		d.state.fire(eventDial)
		d.resetConnection()

		conn, err := d.dialer.DialContext(ctx, "tcp", d.cfg.Addr())
		if err != nil {
			return cycle{phase: phaseEnded, reason: fmt.Sprintf("connection failure: %v", err)}
		}
		d.backoff.Reset()
		d.metrics.clearLastError()
		if !d.state.fire(eventEstablished) {
			// Stopped while dialing.
			conn.Close()
			return cycle{phase: phaseEnded}
		}
		d.logger.Info("connected")
		return cycle{phase: phaseRead, conn: conn}

	case phaseRead:
		reason := d.readLines(ctx, c.conn)
		c.conn.Close()
		return cycle{phase: phaseEnded, reason: reason}

	case phaseEnded:
		d.connectionEnded(c.reason)
		switch afterConnectionEnd(d.stopped.Load(), d.cfg.Reconnect.Enabled) {
		case outcomeRetry:
			return cycle{phase: phaseBackoff}
		default:
			return cycle{phase: phaseExit}
		}

	case phaseBackoff:
		d.metrics.reconnect()
		delay := d.backoff.Next()
		d.logger.Info("reconnecting", "backoff", delay)
		if !sleep(ctx, delay) {
			return cycle{phase: phaseExit}
		}
		return cycle{phase: phaseDial}
	}
	return cycle{phase: phaseExit}
}

// connectionEnded records why the connection ended, clears per-connection
// state, wakes sample waiters so they see the failure promptly, and moves to
// DISCONNECTED (or STOPPED when a stop was requested).
func (d *Driver) connectionEnded(reason string) {
	stopping := d.stopped.Load()
	if reason != "" && !stopping {
		d.metrics.setLastError(reason)
		d.logger.Warn("connection ended", "reason", reason)
	}
	d.resetConnection()
	d.sampleChanged.Notify()
	if stopping {
		d.state.fire(eventStop)
	} else {
		d.state.fire(eventDrop)
	}
}

// readLines feeds every line from conn into the ingestion pipeline until
// the peer closes, a read fails, or ctx is cancelled. It returns the failure
// reason, or "" when the read was ended by a stop.
func (d *Driver) readLines(ctx context.Context, conn net.Conn) string {
	// Closing the socket is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	for {
		if d.stopped.Load() || ctx.Err() != nil {
			return ""
		}
		line, err := r.ReadString('\n')
		if line != "" {
			d.handleLine(line)
		}
		if err != nil {
			if d.stopped.Load() || ctx.Err() != nil {
				return ""
			}
			if errors.Is(err, io.EOF) {
				return "socket closed"
			}
			return fmt.Sprintf("socket error: %v", err)
		}
	}
}

// sleep waits for d or until ctx is cancelled. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
