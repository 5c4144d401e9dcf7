// Package mp285 provides a driver for the Sutter MP-285 micromanipulator
// controller and an HTTP interface to it.
//
// The controller is a three-axis stepper stage; positions on the wire are
// in microsteps, converted to micrometers with the steps-per-micrometer
// multiplier it reports in its status block.  One command may be in flight
// at a time; the protocol has no correlation identifiers, so the session
// serializes all exchanges.
package mp285

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/photonbench/sutter/comm"
)

const (
	// DefaultMoveTimeout bounds how long a motion command may take to be
	// acknowledged; a full-travel move at low speed is slow, and the
	// controller is silent until the move completes
	DefaultMoveTimeout = 30 * time.Second

	// protocolTimeout bounds echo and status exchanges, which complete at
	// RS-232 latency rather than motor speed
	protocolTimeout = 1 * time.Second

	// startupVelocity is commanded at Connect, matching the vendor software
	startupVelocity = 200

	// pollInterval is the serial port read timeout; per-exchange deadlines
	// are layered on top by comm.NewTimeout
	pollInterval = 50 * time.Millisecond
)

// MakeSerConf makes a serial config with the MP-285's communication
// parameters.  9600 8N1 is fixed by the controller, not a user choice.
func MakeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: pollInterval}
}

// MP285 represents an MP-285 micromanipulator controller
type MP285 struct {
	pool *comm.Pool

	// mu enforces the single-in-flight-command invariant and guards the
	// fields below
	mu          sync.Mutex
	closed      bool
	stale       bool // the link may hold unread bytes, e.g. a CR from a timed-out move
	stepMul     uint16
	lastElapsed time.Duration

	// MoveTimeout is how long a motion command may take to complete before
	// GotoPosition gives up
	MoveTimeout time.Duration

	log *slog.Logger
}

// New returns a new MP285 which will communicate over a serial cable
// (connectSerial true, addr is the port) or a terminal server
// (connectSerial false, addr is host:port)
func New(addr string, connectSerial bool) *MP285 {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(MakeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	pool := comm.NewPool(1, time.Minute, maker)
	return &MP285{pool: pool, MoveTimeout: DefaultMoveTimeout}
}

// NewMock returns an MP285 driving a simulated controller, for development
// away from the hardware
func NewMock() *MP285 {
	mock := NewMockMP285()
	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) { return mock, nil })
	return &MP285{pool: pool, MoveTimeout: DefaultMoveTimeout}
}

// SetLogger installs a logger for command traces; nil (the default)
// disables them.  Traces are observational only.
func (m *MP285) SetLogger(l *slog.Logger) {
	m.log = l
}

// Connect initializes the controller the way the vendor software does:
// command the startup velocity, refresh the front panel, then read status
// to learn the step multiplier and verify the velocity took.  Any failure
// is a ConnectionError and the controller should not be trusted for motion.
func (m *MP285) Connect() error {
	if err := m.SetVelocity(startupVelocity, ResolutionCoarse); err != nil {
		return &ConnectionError{Err: err}
	}
	if err := m.UpdatePanel(); err != nil {
		return &ConnectionError{Err: err}
	}
	status, err := m.GetStatus()
	if err != nil {
		return &ConnectionError{Err: err}
	}
	if status.Velocity != startupVelocity {
		return &ConnectionError{Err: fmt.Errorf("controller did not acknowledge startup velocity, want %d got %d", startupVelocity, status.Velocity)}
	}
	if m.log != nil {
		m.log.Info("mp285 ready",
			"stepMul", status.StepMul,
			"velocity", status.Velocity,
			"resolution", status.Resolution)
	}
	return nil
}

// GetPosition returns the absolute stage position in micrometers
func (m *MP285) GetPosition() (Position, error) {
	mult, err := m.multiplier()
	if err != nil {
		return Position{}, err
	}
	raw, _, err := m.exchange([]byte{opGetPosition}, positionLen+1, protocolTimeout)
	if err != nil {
		return Position{}, err
	}
	pos, err := DecodePosition(raw, mult)
	if err != nil {
		return Position{}, err
	}
	if m.log != nil {
		m.log.Debug("stage position", "x", pos.X, "y", pos.Y, "z", pos.Z)
	}
	return pos, nil
}

// GotoPosition commands an absolute move in micrometers and blocks until
// the controller acknowledges completion, returning the elapsed move time.
// The wait is bounded by MoveTimeout; on a TimeoutError the stage is not
// known to have stopped, and the caller should re-query position before
// trusting it.
func (m *MP285) GotoPosition(target Position) (time.Duration, error) {
	mult, err := m.multiplier()
	if err != nil {
		return 0, err
	}
	frame := EncodeMove(stepsFromMicrons(target, mult))
	raw, elapsed, err := m.exchange(frame, 1, m.MoveTimeout)
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			te.Target = &target
		}
		return elapsed, err
	}
	if err := decodeAck(opMove, raw); err != nil {
		return elapsed, err
	}
	m.mu.Lock()
	m.lastElapsed = elapsed
	m.mu.Unlock()
	if m.log != nil {
		m.log.Info("move complete",
			"x", target.X, "y", target.Y, "z", target.Z,
			"seconds", elapsed.Seconds())
	}
	return elapsed, nil
}

// SetVelocity sets the move velocity in microsteps per second; resolution
// selects 10 or 50 microsteps per step.  Velocity must fit in 15 bits, the
// top bit of the wire word carries the resolution flag.
func (m *MP285) SetVelocity(velocity, resolution int) error {
	frame, err := EncodeVelocity(velocity, resolution)
	if err != nil {
		return err
	}
	raw, _, err := m.exchange(frame, 1, protocolTimeout)
	if err != nil {
		return err
	}
	return decodeAck(opSetVelocity, raw)
}

// SetOrigin makes the current position the origin of the coordinate system
func (m *MP285) SetOrigin() error {
	return m.ack(opSetOrigin)
}

// UpdatePanel refreshes the position readout on the controller's front
// panel display
func (m *MP285) UpdatePanel() error {
	return m.ack(opUpdatePanel)
}

// Reset restarts the controller.  The controller does not acknowledge the
// command and may be unresponsive for a settling interval afterwards; the
// caller owns any delay before the next command.
func (m *MP285) Reset() error {
	_, _, err := m.exchange([]byte{opReset}, 0, 0)
	return err
}

// GetStatus reads and decodes the controller's 32-byte status block,
// refreshing the cached step multiplier used to scale positions
func (m *MP285) GetStatus() (Status, error) {
	raw, _, err := m.exchange([]byte{opGetStatus}, statusLen+1, protocolTimeout)
	if err != nil {
		return Status{}, err
	}
	status, err := DecodeStatus(raw)
	if err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	m.stepMul = status.StepMul
	m.mu.Unlock()
	if m.log != nil {
		m.log.Debug("status",
			"stepMul", status.StepMul,
			"velocity", status.Velocity,
			"resolution", status.Resolution,
			"firmware", status.Firmware)
	}
	return status, nil
}

// StepMultiplier returns the cached microsteps-per-micrometer scale factor;
// zero until a status read has succeeded
func (m *MP285) StepMultiplier() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepMul
}

// LastMoveDuration returns how long the most recent successful move took;
// zero if no move has completed
func (m *MP285) LastMoveDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastElapsed
}

// Close releases the transport.  Subsequent operations fail with ErrClosed
// and perform no I/O.
func (m *MP285) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.pool.Close()
}

// multiplier returns the cached step multiplier, fetching status first if
// it has never been learned
func (m *MP285) multiplier() (uint16, error) {
	m.mu.Lock()
	mult := m.stepMul
	m.mu.Unlock()
	if mult != 0 {
		return mult, nil
	}
	status, err := m.GetStatus()
	if err != nil {
		return 0, err
	}
	return status.StepMul, nil
}

// ack sends a zero-argument command and awaits the echoed terminator
func (m *MP285) ack(op byte) error {
	raw, _, err := m.exchange([]byte{op}, 1, protocolTimeout)
	if err != nil {
		return err
	}
	return decodeAck(op, raw)
}

// exchange writes one frame (terminator appended on the way out) and reads
// exactly want response bytes within the deadline.  want of zero means no
// response is expected.  The caller gets the raw bytes including the
// trailing terminator; decoding and terminator validation belong to the
// codec layer.
func (m *MP285) exchange(frame []byte, want int, timeout time.Duration) ([]byte, time.Duration, error) {
	op := frame[0]
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, 0, ErrClosed
	}
	conn, err := m.pool.Get()
	if err != nil {
		return nil, 0, &ConnectionError{Err: err}
	}
	var connErr error
	defer func() { m.pool.ReturnWithError(conn, connErr) }()
	if m.stale {
		drain(conn)
		m.stale = false
	}
	term := comm.NewTerminator(conn, Terminator, Terminator)
	start := time.Now()
	if _, err := term.Write(frame); err != nil {
		connErr = err
		return nil, 0, &ConnectionError{Err: err}
	}
	if want == 0 {
		// write-only command; anything the controller says later is stale
		m.stale = true
		return nil, time.Since(start), nil
	}
	tw := comm.NewTimeout(conn, timeout)
	buf := make([]byte, want)
	n, err := readFull(tw, buf)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, comm.ErrTimeout) {
			m.stale = true
			if n == 0 {
				return nil, elapsed, &TimeoutError{Op: op, Elapsed: elapsed}
			}
			return nil, elapsed, &MalformedResponseError{Op: op, Expected: want, Got: n}
		}
		connErr = err
		return nil, elapsed, &ConnectionError{Err: err}
	}
	return buf, elapsed, nil
}

// readFull reads until buf is full or the reader errors
func readFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drain discards anything buffered on the link; a move that timed out may
// complete later and emit its CR between exchanges
func drain(conn io.ReadWriter) {
	tw := comm.NewTimeout(conn, 2*pollInterval)
	buf := make([]byte, 64)
	for {
		n, err := tw.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}
