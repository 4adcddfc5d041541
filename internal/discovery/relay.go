// Package discovery waits for session announcements and opens a terminal
// client for each one.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/acolita/sdb/internal/adapters/realnet"
	"github.com/acolita/sdb/internal/portalloc"
	"github.com/acolita/sdb/internal/ports"
	"github.com/acolita/sdb/internal/theme"
)

// quit on the queue ends Run.
const quit = "q"

// Connector opens one client session. *termclient.Client implements it.
type Connector interface {
	Connect(ctx context.Context, addr string) error
}

// Relay listens for UDP announcements.
type Relay struct {
	listener  ports.NetworkListener
	connector Connector
	out       io.Writer
	addr      string
	host      string
	logger    *slog.Logger
}

// Option customizes a Relay.
type Option func(*Relay)

// WithListener sets the listener used to bind the UDP socket.
func WithListener(l ports.NetworkListener) Option {
	return func(r *Relay) { r.listener = l }
}

// WithOutput sets where status lines are printed.
func WithOutput(w io.Writer) Option {
	return func(r *Relay) { r.out = w }
}

// WithAddress sets the UDP address to listen on.
func WithAddress(addr string) Option {
	return func(r *Relay) { r.addr = addr }
}

// WithHost sets the host announced sessions are reached at.
func WithHost(host string) Option {
	return func(r *Relay) { r.host = host }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// New creates a relay that hands announced sessions to connector.
func New(connector Connector, opts ...Option) *Relay {
	r := &Relay{
		listener:  realnet.NewListener(),
		connector: connector,
		out:       os.Stdout,
		addr:      ":" + strconv.Itoa(portalloc.NotifyPort),
		host:      "127.0.0.1",
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run serves announcements until a "q" arrives or ctx is cancelled.
// Sessions run one at a time; announcements received meanwhile queue up.
func (r *Relay) Run(ctx context.Context) error {
	pc, err := r.listener.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.addr, err)
	}
	defer pc.Close()

	queue := make(chan string, 16)
	stop := make(chan struct{})
	defer close(stop)

	go r.receive(pc, queue, stop)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case queue <- quit:
			case <-stop:
			}
		case <-stop:
		}
	}()

	r.listening()
	for msg := range queue {
		if msg == quit {
			return nil
		}
		port, err := strconv.Atoi(msg)
		if err != nil || port <= 0 || port > 65535 {
			r.logger.Debug("ignoring datagram", slog.String("data", msg))
			continue
		}

		fmt.Fprintln(r.out, theme.Started.Render(fmt.Sprintf("opening session at port :%d...", port)))
		addr := net.JoinHostPort(r.host, strconv.Itoa(port))
		if err := r.connector.Connect(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("session failed", slog.Int("port", port), slog.String("error", err.Error()))
			fmt.Fprintln(r.out, theme.Failure.Render("Error: "+err.Error()))
		}
		r.listening()
	}
	return nil
}

func (r *Relay) listening() {
	fmt.Fprintln(r.out, theme.Waiting.Render(fmt.Sprintf("listening for sdb notifications on %s...", r.addr)))
}

func (r *Relay) receive(pc net.PacketConn, queue chan<- string, stop <-chan struct{}) {
	buf := make([]byte, 1024)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Debug("receive failed", slog.String("error", err.Error()))
			}
			return
		}
		msg := strings.TrimSpace(string(buf[:n]))
		if msg == "" {
			continue
		}
		select {
		case queue <- msg:
		case <-stop:
			return
		}
	}
}
