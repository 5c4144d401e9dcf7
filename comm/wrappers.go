package comm

import (
	"io"
	"net"
	"time"
)

// NewTimeout wraps rw such that reads fail with ErrTimeout once d has
// elapsed from the time of the call.  The deadline is absolute: it spans
// every Read made through the wrapper, so a device that trickles bytes
// cannot stretch an exchange past its budget.  net.Conn values use their
// native deadline support; other transports (tarm serial ports) are polled,
// with the port's own ReadTimeout as the poll interval.
func NewTimeout(rw io.ReadWriter, d time.Duration) io.ReadWriter {
	deadline := time.Now().Add(d)
	if conn, ok := rw.(net.Conn); ok {
		conn.SetReadDeadline(deadline)
		return netTimeout{conn: conn}
	}
	return &Timeout{rw: rw, deadline: deadline}
}

// Timeout is a deadline-bounded view of a ReadWriter, see NewTimeout
type Timeout struct {
	rw       io.ReadWriter
	deadline time.Time
}

// Read reads from the underlying transport until at least one byte arrives
// or the deadline passes, whichever is first
func (t *Timeout) Read(p []byte) (int, error) {
	for {
		n, err := t.rw.Read(p)
		if n > 0 {
			return n, nil
		}
		// zero-byte reads and EOF are how serial ports express "nothing
		// yet"; anything else is a real transport error
		if err != nil && err != io.EOF {
			return n, err
		}
		if time.Now().After(t.deadline) {
			return 0, ErrTimeout
		}
	}
}

// Write passes through to the underlying transport
func (t *Timeout) Write(p []byte) (int, error) {
	return t.rw.Write(p)
}

type netTimeout struct {
	conn net.Conn
}

func (t netTimeout) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrTimeout
		}
	}
	return n, err
}

func (t netTimeout) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Terminator appends the Tx terminator byte to writes and strips a trailing
// Rx terminator byte from reads
type Terminator struct {
	rw io.ReadWriter

	// Rx and Tx are the receive and transmit terminator bytes
	Rx, Tx byte
}

// NewTerminator returns a Terminator wrapping rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, Rx: rx, Tx: tx}
}

// Write sends p followed by the Tx terminator in a single write.  The
// returned count excludes the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, t.Tx)
	n, err := t.rw.Write(buf)
	if n == len(buf) {
		n--
	}
	return n, err
}

// Read reads from the underlying transport and drops a trailing Rx
// terminator if one ended the read
func (t *Terminator) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	if n > 0 && p[n-1] == t.Rx {
		n--
	}
	return n, err
}
