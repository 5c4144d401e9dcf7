/*Package comm provides connection plumbing for lab hardware.

The pieces are:
 1. a Pool which holds one or more connections to a device, remaking them
    lazily if they have been reclaimed or destroyed
 2. CreationFuncs ("makers") for the two transports RS-232 instruments are
    reached over in practice, a serial cable or a terminal server
 3. io wrappers which layer per-exchange deadlines (Timeout) and protocol
    framing bytes (Terminator) on top of a raw connection

A device driver typically owns a Pool of size 1, Gets a connection per
exchange, and returns it with ReturnWithError when the exchange concludes.
*/
package comm

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTimeout is generated when no data arrives within the deadline of a
	// Timeout wrapper
	ErrTimeout = errors.New("comm: timed out waiting for data")

	// ErrPoolClosed is generated when a connection is requested from a pool
	// after Close
	ErrPoolClosed = errors.New("comm: pool is closed")
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// SerialConnMaker returns a maker which opens the serial port described by
// conf.  Opens are retried with exponential backoff; USB-RS232 bridges do
// not always enumerate instantly after a replug.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn *serial.Port
		op := func() error {
			var err error
			conn, err = serial.OpenPort(conf)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// BackingOffTCPConnMaker returns a maker which dials addr with the given
// per-attempt timeout, retrying with exponential backoff.  Terminal servers
// (e.g. digi portservers) refuse new connections for a moment after one is
// dropped, so a single dial is not reliable.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// Pool is a communication pool which holds one or more connections to a
// device that will be closed if they are not in use, and re-opened as
// needed.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize    int                     // maximum number of connections, == cap(conns)
	onLease    int                     // number of connections given out, <= cap(conns)
	timeout    time.Duration           // idle time after which pooled connections are freed
	conns      chan io.ReadWriteCloser // the circular buffer of connections
	timer      *time.Timer             // timer used to destroy connections after all are returned
	maker      CreationFunc
	closed     bool
	reclaiming bool
	mu         *sync.Mutex
}

// NewPool creates a new Pool, which closes connections that sit unused for
// the given timeout
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
	p.timer.Stop() // nothing to reclaim yet
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are in use.  It is guaranteed that there is no contention for the
// ReadWriter.
//
// When done with the connection, return it with Put, or discard it with
// Destroy if it has become no good (e.g., all calls error).
// ReturnWithError encapsulates that decision.
//
// If the error from Get is not nil, the connection must not be returned to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	p.timer.Stop()
	// short circuit: if a connection is available, immediately return it
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// if they're all given out, wait for one to come back
	if p.onLease == p.maxSize {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// no connection available and they aren't all out; make one.
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a connection to the pool.  It may be reused, or will be
// freed after all connections are returned and the timeout has elapsed.
// Junk connections (ones that always error) should be Destroy'd instead.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	p.conns <- rwc
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	if p.onLease == 0 {
		p.startReclaim()
	}
}

// Destroy immediately frees a connection.  This should be used instead of
// Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
}

// ReturnWithError returns a connection to the pool if err is nil and
// destroys it otherwise.  Only transport-level errors belong here; a device
// that replied with garbage did not break the pipe it replied over.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close frees all idle connections and marks the pool closed; subsequent
// Gets fail with ErrPoolClosed
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.timer.Stop()
	var err error
	for {
		select {
		case c := <-p.conns:
			if cerr := c.Close(); cerr != nil {
				err = cerr
			}
		default:
			return err
		}
	}
}

// startReclaim arms the idle timer; when it fires, all pooled connections
// are closed.  Callers must hold p.mu.
func (p *Pool) startReclaim() {
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.mu.Lock()
		defer p.mu.Unlock()
		p.reclaiming = false
		for {
			select {
			case c := <-p.conns:
				c.Close()
			default:
				return
			}
		}
	}()
}
