package driver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"

	"tcpline/internal/notify"
)

// State is the driver's connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateStopped      State = "STOPPED"
)

// Transition events.
const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventDrop        = "drop"
	eventStop        = "stop"
)

// transitions is the full edge set. STOPPED has no outgoing edges, so a
// stopped driver can never connect again.
var transitions = fsm.Events{
	{Name: eventDial, Src: []string{string(StateDisconnected), string(StateConnecting)}, Dst: string(StateConnecting)},
	{Name: eventEstablished, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
	{Name: eventDrop, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateDisconnected)},
	{Name: eventStop, Src: []string{string(StateDisconnected), string(StateConnecting), string(StateConnected)}, Dst: string(StateStopped)},
}

// stateMachine owns the authoritative State and broadcasts every change.
type stateMachine struct {
	fsm     *fsm.FSM
	changed *notify.Signal
	logger  *slog.Logger
}

func newStateMachine(changed *notify.Signal, logger *slog.Logger) *stateMachine {
	sm := &stateMachine{changed: changed, logger: logger}
	sm.fsm = fsm.NewFSM(
		string(StateDisconnected),
		transitions,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				sm.logger.Debug("state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
				sm.changed.Notify()
			},
		},
	)
	return sm
}

func (sm *stateMachine) current() State {
	return State(sm.fsm.Current())
}

// fire applies event. Events that do not apply to the current state are
// ignored; that is how a stop wins over a concurrent dial or established.
// It reports whether the state changed.
func (sm *stateMachine) fire(event string) bool {
	err := sm.fsm.Event(context.Background(), event)
	if err == nil {
		return true
	}
	var noTransition fsm.NoTransitionError
	var invalid fsm.InvalidEventError
	if !errors.As(err, &noTransition) && !errors.As(err, &invalid) {
		sm.logger.Debug("state transition failed", "event", event, "state", sm.fsm.Current(), "error", err)
	}
	return false
}
