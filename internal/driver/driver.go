// Package driver implements the resilient line-telemetry client: a single
// background goroutine connects to the endpoint, feeds every received line
// through the parser and the acceptance policy, and reconnects with
// exponential backoff when the connection fails. Callers observe the latest
// accepted sample and the driver's status through Connect, ReadTelemetry,
// Disconnect and Status, all safe for concurrent use.
//
// Shared state is split into independently locked groups (ingestion, metrics,
// state, loop handle). No lock is held across a network call, a sleep, or a
// wait; waiters are woken by payload-free notifications and re-check their
// condition.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tcpline/internal/backoff"
	"tcpline/internal/config"
	"tcpline/internal/lineparse"
	"tcpline/internal/logging"
	"tcpline/internal/notify"
	"tcpline/internal/telemetry"
)

// Dialer opens the transport connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customizes a Driver.
type Option func(*Driver)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logging.Default(logger) }
}

// WithDialer replaces the default TCP dialer.
func WithDialer(dialer Dialer) Option {
	return func(d *Driver) { d.dialer = dialer }
}

// WithClock replaces time.Now as the source of arrival timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver is a line-telemetry client for one endpoint.
type Driver struct {
	cfg       config.Config
	machineID string
	logger    *slog.Logger
	dialer    Dialer
	now       func() time.Time

	dedupeWindowMs int64
	parseLogLimit  *rate.Limiter

	state         *stateMachine
	stateChanged  *notify.Signal
	sampleChanged *notify.Signal
	stopped       atomic.Bool
	backoff       *backoff.Backoff
	metrics       metricsCell

	// mu guards the per-connection ingestion state.
	mu     sync.Mutex
	parser *lineparse.Parser
	latest *telemetry.Sample
	origin *time.Time
	// seq counts accepted samples over the driver's lifetime.
	seq uint64

	// loopMu guards the background goroutine handle.
	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a driver for cfg. Every telemetry point it returns is tagged
// with machineID. The background goroutine starts on the first Connect.
func New(cfg config.Config, machineID string, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:           cfg,
		machineID:     machineID,
		logger:        logging.Discard(),
		dialer:        &net.Dialer{},
		now:           time.Now,
		parseLogLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		stateChanged:  notify.NewSignal(),
		sampleChanged: notify.NewSignal(),
		backoff:       backoff.New(cfg.MinBackoff(), cfg.MaxBackoff()),
		parser:        lineparse.New(cfg),
	}
	d.dedupeWindowMs = cfg.DedupeWindowMs()
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "driver", "machine_id", machineID, "addr", cfg.Addr())
	d.state = newStateMachine(d.stateChanged, d.logger)
	return d, nil
}

// NewFromJSON decodes and validates a JSON config, then calls New. A
// malformed config yields an error and no driver.
func NewFromJSON(raw []byte, machineID string, opts ...Option) (*Driver, error) {
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}
	return New(cfg, machineID, opts...)
}

// Connect starts the background goroutine if it is not already running and
// waits until the driver is CONNECTED. It fails with ErrStopped once the
// driver is stopped and, when reconnection is disabled, with a
// *DisconnectedError as soon as the connection attempt fails.
func (d *Driver) Connect(ctx context.Context) error {
	if err := d.ensureLoop(); err != nil {
		return err
	}
	return d.stateChanged.Until(ctx, func() (bool, error) {
		switch d.state.current() {
		case StateConnected:
			return true, nil
		case StateStopped:
			return false, ErrStopped
		case StateDisconnected:
			if !d.cfg.Reconnect.Enabled {
				return false, d.disconnectedError()
			}
		}
		return false, nil
	})
}

// ReadTelemetry returns the latest accepted sample as a telemetry point,
// waiting up to twice the emit interval (at least 500ms) for one to arrive.
// It fails with ErrStopped after Disconnect, with ErrNoTelemetry on timeout,
// and with a *DisconnectedError once the connection dropped for good.
func (d *Driver) ReadTelemetry(ctx context.Context) (telemetry.Point, error) {
	p, _, err := d.ReadSequenced(ctx)
	return p, err
}

// ReadSequenced is ReadTelemetry that also returns the sequence number of
// the sample behind the point. Sequence numbers start at 1 and grow by one
// per accepted sample, across reconnects, so a caller polling repeatedly can
// tell a new sample from a repeat even when both carry the same timestamp.
func (d *Driver) ReadSequenced(ctx context.Context) (telemetry.Point, uint64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.ReadTimeout())
	defer cancel()

	var sample telemetry.Sample
	var origin time.Time
	var seq uint64
	err := d.sampleChanged.Until(waitCtx, func() (bool, error) {
		if d.stopped.Load() {
			return false, ErrStopped
		}
		if d.isTerminal() {
			return false, d.disconnectedError()
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.latest == nil {
			return false, nil
		}
		sample = d.latest.Clone()
		if d.origin == nil {
			ts := sample.TS
			d.origin = &ts
		}
		origin = *d.origin
		seq = d.seq
		return true, nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return telemetry.Point{}, 0, ErrNoTelemetry
		}
		return telemetry.Point{}, 0, err
	}

	d.metrics.telemetryEmitted()
	return telemetry.NewPoint(sample, d.machineID, origin), seq, nil
}

// Disconnect stops the driver for good: the state becomes STOPPED, pending
// reads fail with ErrStopped, and the background goroutine is cancelled.
// It waits for the goroutine to exit or ctx to end. Calling it again is a
// no-op.
func (d *Driver) Disconnect(ctx context.Context) error {
	first := !d.stopped.Swap(true)
	d.state.fire(eventStop)
	d.sampleChanged.Notify()

	d.loopMu.Lock()
	cancel, done := d.loopCancel, d.loopDone
	d.loopMu.Unlock()

	if first {
		d.logger.Info("driver stopping")
	}
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MachineID returns the identifier stamped on every telemetry point.
func (d *Driver) MachineID() string {
	return d.machineID
}

// Done returns a channel closed when the current background goroutine has
// exited. Before the first Connect the channel is already closed.
func (d *Driver) Done() <-chan struct{} {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if d.loopDone == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.loopDone
}

// ensureLoop starts the background goroutine unless one is running. The
// state moves to CONNECTING before it returns, so a caller never observes
// the pre-start DISCONNECTED as a failed attempt.
func (d *Driver) ensureLoop() error {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()

	if d.loopDone != nil {
		select {
		case <-d.loopDone:
		default:
			return nil
		}
	}
	if d.stopped.Load() || d.state.current() == StateStopped {
		return ErrStopped
	}

	d.backoff.Configure(d.cfg.MinBackoff(), d.cfg.MaxBackoff())
	d.resetConnection()
	d.state.fire(eventDial)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.loopCancel, d.loopDone = cancel, done

	go d.run(ctx, done)
	return nil
}

func (d *Driver) loopFinished() bool {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if d.loopDone == nil {
		return false
	}
	select {
	case <-d.loopDone:
		return true
	default:
		return false
	}
}

func (d *Driver) disconnectedError() error {
	reason, _ := d.metrics.lastError()
	return &DisconnectedError{Reason: reason}
}
