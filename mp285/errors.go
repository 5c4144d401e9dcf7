package mp285

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is generated when an operation is attempted on a closed session
var ErrClosed = errors.New("mp285: session is closed")

// ConnectionError indicates the transport could not be established, or
// failed mid-exchange.  It is fatal to the exchange; no retry is attempted.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mp285: connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ValidationError is generated before any I/O when a caller-supplied
// parameter violates a protocol constraint
type ValidationError struct {
	Param      string
	Value      int
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mp285: invalid %s %d: %s", e.Param, e.Value, e.Constraint)
}

// MalformedResponseError indicates a response of the wrong length, or one
// not ending in the terminator.  The session remains usable; the transport
// is not torn down.
type MalformedResponseError struct {
	Op            byte
	Expected, Got int
	BadTerminator bool
}

func (e *MalformedResponseError) Error() string {
	if e.BadTerminator {
		return fmt.Sprintf("mp285: response to %q not terminated with CR (%d of %d bytes)", e.Op, e.Got, e.Expected)
	}
	return fmt.Sprintf("mp285: malformed response to %q: expected %d bytes, got %d", e.Op, e.Expected, e.Got)
}

// TimeoutError indicates no qualifying response arrived within the
// deadline.  For motion commands Target is the commanded position and the
// stage is not known to have stopped; re-query position before trusting it.
type TimeoutError struct {
	Op      byte
	Elapsed time.Duration
	Target  *Position
}

func (e *TimeoutError) Error() string {
	if e.Target != nil {
		return fmt.Sprintf("mp285: move to (%.2f, %.2f, %.2f) um not acknowledged after %v; stage state unknown",
			e.Target.X, e.Target.Y, e.Target.Z, e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("mp285: no response to %q after %v", e.Op, e.Elapsed.Round(time.Millisecond))
}

// UnknownAxisError is generated when an axis label is not one of x, y, z
type UnknownAxisError struct {
	Axis string
}

func (e *UnknownAxisError) Error() string {
	return fmt.Sprintf("mp285: unknown axis %q, must be one of x, y, z", e.Axis)
}
