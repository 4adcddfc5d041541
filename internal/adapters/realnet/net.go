// Package realnet provides real implementations of the NetworkDialer and NetworkListener ports.
package realnet

import (
	"context"
	"net"
	"time"

	"github.com/acolita/sdb/internal/ports"
)

// Dialer implements ports.NetworkDialer using the net package.
type Dialer struct{}

// NewDialer creates a new Dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial establishes a network connection.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return net.Dial(network, address)
}

// DialTimeout establishes a network connection, giving up after timeout.
func (d *Dialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Listener implements ports.NetworkListener using net.ListenConfig.
// Stream listeners on Unix are created with SO_REUSEADDR set.
type Listener struct {
	lc net.ListenConfig
}

// NewListener creates a new Listener.
func NewListener() *Listener {
	return &Listener{}
}

// Listen creates a stream listener.
func (l *Listener) Listen(network, address string) (net.Listener, error) {
	return l.lc.Listen(context.Background(), network, address)
}

// ListenPacket creates a datagram listener.
func (l *Listener) ListenPacket(network, address string) (net.PacketConn, error) {
	return l.lc.ListenPacket(context.Background(), network, address)
}

var (
	_ ports.NetworkDialer   = (*Dialer)(nil)
	_ ports.NetworkListener = (*Listener)(nil)
)
