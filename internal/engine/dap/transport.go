// Package dap is a Debug Adapter Protocol client, enough of it to drive
// Delve's "dlv dap" server. Message types and framing come from go-dap.
package dap

import (
	"bufio"
	"errors"
	"io"
	"sync"

	godap "github.com/google/go-dap"
)

// Transport moves DAP messages.
type Transport interface {
	// Send writes one message.
	Send(msg godap.Message) error

	// Receive reads one message.
	Receive() (godap.Message, error)

	// Close closes the transport.
	Close() error
}

// StreamTransport frames messages over any io.ReadWriteCloser, typically a TCP connection.
type StreamTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStreamTransport wraps rwc.
func NewStreamTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one message. Safe for concurrent use.
func (t *StreamTransport) Send(msg godap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return godap.WriteProtocolMessage(t.rwc, msg)
}

// Receive reads the next message go-dap can decode. Commands and events it
// does not know are skipped; their frame has already been consumed. Not safe
// for concurrent use.
func (t *StreamTransport) Receive() (godap.Message, error) {
	for {
		msg, err := godap.ReadProtocolMessage(t.reader)
		var fieldErr *godap.DecodeProtocolMessageFieldError
		if errors.As(err, &fieldErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	return t.rwc.Close()
}
