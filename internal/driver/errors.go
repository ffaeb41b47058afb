package driver

import "errors"

var (
	// ErrStopped is returned by every call on a driver after Disconnect.
	ErrStopped = errors.New("driver stopped")

	// ErrNoTelemetry is returned when a read times out before any sample
	// was accepted on the current connection.
	ErrNoTelemetry = errors.New("no telemetry yet")

	// ErrDisconnected matches every *DisconnectedError.
	ErrDisconnected = errors.New("disconnected")
)

// DisconnectedError reports that the connection ended and reconnection is
// disabled. Its message is the last recorded transport or parse error, or
// "disconnected" when none was recorded.
type DisconnectedError struct {
	Reason string
}

func (e *DisconnectedError) Error() string {
	if e.Reason == "" {
		return ErrDisconnected.Error()
	}
	return e.Reason
}

func (e *DisconnectedError) Is(target error) bool {
	return target == ErrDisconnected
}
