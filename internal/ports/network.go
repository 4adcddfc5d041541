package ports

import (
	"net"
	"time"
)

// NetworkDialer abstracts network dialing for testing.
type NetworkDialer interface {
	// Dial establishes a network connection.
	Dial(network, address string) (net.Conn, error)

	// DialTimeout establishes a network connection, giving up after timeout.
	DialTimeout(network, address string, timeout time.Duration) (net.Conn, error)
}

// NetworkListener abstracts network listening for testing.
type NetworkListener interface {
	// Listen creates a stream listener.
	Listen(network, address string) (net.Listener, error)

	// ListenPacket creates a datagram listener.
	ListenPacket(network, address string) (net.PacketConn, error)
}
