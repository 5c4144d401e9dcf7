package mp285

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MockMP285 simulates the controller's wire behavior for development and
// testing without hardware.  It implements io.ReadWriteCloser and can be
// handed to a comm.Pool in place of a serial port.
//
// The zero value is not usable; call NewMockMP285.
type MockMP285 struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool

	pos     [3]int32
	velWord uint16
	stepMul uint16

	// MoveDelay is how long a move command takes to acknowledge
	MoveDelay time.Duration

	// DropMoveAck makes move commands never acknowledge, simulating a
	// stalled stage
	DropMoveAck bool

	// TruncatePosition makes position reports arrive short with no
	// terminator
	TruncatePosition bool

	// Writes counts the frames the mock has received
	Writes int
}

// NewMockMP285 returns a mock with the configuration a real controller
// typically reports
func NewMockMP285() *MockMP285 {
	return &MockMP285{
		velWord: startupVelocity,
		stepMul: 25,
	}
}

// Read returns buffered response bytes, or (0, nil) after a short sleep
// when there are none, mimicking a serial port read timeout
func (m *MockMP285) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.EOF
	}
	if m.out.Len() > 0 {
		n, err := m.out.Read(p)
		m.mu.Unlock()
		return n, err
	}
	m.mu.Unlock()
	time.Sleep(time.Millisecond)
	return 0, nil
}

// Write accepts command frames; a frame is complete when its trailing CR
// arrives
func (m *MockMP285) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.in.Write(p)
	for {
		raw := m.in.Bytes()
		idx := bytes.IndexByte(raw, Terminator)
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, raw[:idx])
		m.in.Next(idx + 1)
		m.handle(frame)
	}
	return len(p), nil
}

// Close makes further reads and writes fail
func (m *MockMP285) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Position returns the simulated stage position in microsteps
func (m *MockMP285) Position() [3]int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// handle executes one command frame; the caller holds the lock
func (m *MockMP285) handle(frame []byte) {
	if len(frame) == 0 {
		return
	}
	m.Writes++
	switch frame[0] {
	case opGetPosition:
		if m.TruncatePosition {
			var buf [4]byte
			dataOrder.PutUint32(buf[:], uint32(m.pos[0]))
			m.out.Write(buf[:])
			return
		}
		for _, v := range m.pos {
			var buf [4]byte
			dataOrder.PutUint32(buf[:], uint32(v))
			m.out.Write(buf[:])
		}
		m.out.WriteByte(Terminator)
	case opMove:
		if len(frame) != 1+positionLen {
			return
		}
		var target [3]int32
		for i := range target {
			target[i] = int32(dataOrder.Uint32(frame[1+4*i:]))
		}
		if m.DropMoveAck {
			return
		}
		delay := m.MoveDelay
		go func() {
			time.Sleep(delay)
			m.mu.Lock()
			m.pos = target
			m.out.WriteByte(Terminator)
			m.mu.Unlock()
		}()
	case opSetVelocity:
		if len(frame) != 3 {
			return
		}
		m.velWord = dataOrder.Uint16(frame[1:])
		m.out.WriteByte(Terminator)
	case opSetOrigin:
		m.pos = [3]int32{}
		m.out.WriteByte(Terminator)
	case opUpdatePanel:
		m.out.WriteByte(Terminator)
	case opReset:
		// the real controller restarts silently
	case opGetStatus:
		m.out.Write(m.statusBlock())
		m.out.WriteByte(Terminator)
	}
}

// statusBlock builds a 32-byte status report reflecting the mock's
// configuration; words the driver does not interpret carry typical values
func (m *MockMP285) statusBlock() []byte {
	blk := make([]byte, statusLen)
	blk[0] = 64
	blk[2] = 2
	blk[3] = 4
	dataOrder.PutUint16(blk[offStepMul:], m.stepMul)
	dataOrder.PutUint16(blk[offStepDiv:], 4)
	dataOrder.PutUint16(blk[offVelocity:], m.velWord)
	dataOrder.PutUint16(blk[offFirmware:], 340)
	return blk
}
