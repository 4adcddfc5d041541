// Package fakenet provides fake network dialer and listener for testing.
package fakenet

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Dialer is a fake network dialer that can be configured to return errors or specific connections.
type Dialer struct {
	mu       sync.Mutex
	DialFunc func(network, address string) (net.Conn, error)
	calls    []DialCall
}

// DialCall records a call to Dial or DialTimeout.
type DialCall struct {
	Network string
	Address string
	Timeout time.Duration
}

// NewDialer creates a new fake Dialer that returns an error by default.
func NewDialer() *Dialer {
	return &Dialer{
		DialFunc: func(network, address string) (net.Conn, error) {
			return nil, fmt.Errorf("fakenet: not configured")
		},
	}
}

// Dial records the call and delegates to DialFunc.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialTimeout(network, address, 0)
}

// DialTimeout records the call, including the timeout, and delegates to DialFunc.
func (d *Dialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Address: address, Timeout: timeout})
	fn := d.DialFunc
	d.mu.Unlock()
	return fn(network, address)
}

// Calls returns all recorded dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetError configures the dialer to always return the given error.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialFunc = func(network, address string) (net.Conn, error) {
		return nil, err
	}
}

// SetConn configures the dialer to hand out conn on the next dial.
func (d *Dialer) SetConn(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialFunc = func(network, address string) (net.Conn, error) {
		return conn, nil
	}
}

// Listener is a fake network listener that can be configured.
type Listener struct {
	mu               sync.Mutex
	ListenFunc       func(network, address string) (net.Listener, error)
	ListenPacketFunc func(network, address string) (net.PacketConn, error)
	calls            []ListenCall
}

// ListenCall records a call to Listen or ListenPacket.
type ListenCall struct {
	Network string
	Address string
}

// NewListener creates a new fake Listener that returns an error by default.
func NewListener() *Listener {
	return &Listener{
		ListenFunc: func(network, address string) (net.Listener, error) {
			return nil, fmt.Errorf("fakenet: not configured")
		},
		ListenPacketFunc: func(network, address string) (net.PacketConn, error) {
			return nil, fmt.Errorf("fakenet: not configured")
		},
	}
}

// Listen records the call and delegates to ListenFunc.
func (l *Listener) Listen(network, address string) (net.Listener, error) {
	l.mu.Lock()
	l.calls = append(l.calls, ListenCall{Network: network, Address: address})
	fn := l.ListenFunc
	l.mu.Unlock()
	return fn(network, address)
}

// ListenPacket records the call and delegates to ListenPacketFunc.
func (l *Listener) ListenPacket(network, address string) (net.PacketConn, error) {
	l.mu.Lock()
	l.calls = append(l.calls, ListenCall{Network: network, Address: address})
	fn := l.ListenPacketFunc
	l.mu.Unlock()
	return fn(network, address)
}

// Calls returns all recorded listen calls.
func (l *Listener) Calls() []ListenCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ListenCall(nil), l.calls...)
}

// SetError configures the listener to always return the given error.
func (l *Listener) SetError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ListenFunc = func(network, address string) (net.Listener, error) {
		return nil, err
	}
}

// StubListener is a net.Listener whose Accept blocks until Close
// or until a connection is pushed with Push.
type StubListener struct {
	addr   net.Addr
	conns  chan net.Conn
	done   chan struct{}
	closed sync.Once
}

// NewStubListener returns a StubListener reporting addr as its address.
func NewStubListener(addr string) *StubListener {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return &StubListener{
		addr:  tcp,
		conns: make(chan net.Conn, 1),
		done:  make(chan struct{}),
	}
}

// Push makes conn available to the next Accept.
func (s *StubListener) Push(conn net.Conn) {
	s.conns <- conn
}

// Accept waits for a pushed connection.
func (s *StubListener) Accept() (net.Conn, error) {
	select {
	case c := <-s.conns:
		return c, nil
	case <-s.done:
		return nil, net.ErrClosed
	}
}

// Close unblocks Accept. It is safe to call more than once.
func (s *StubListener) Close() error {
	s.closed.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close has been called.
func (s *StubListener) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Addr returns the configured address.
func (s *StubListener) Addr() net.Addr { return s.addr }

var _ net.Listener = (*StubListener)(nil)
