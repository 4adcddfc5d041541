// Package termclient is the terminal side of a remote debug session: a
// raw-mode line editor with history and in-band tab completion that talks
// to the command loop over TCP.
package termclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/muesli/cancelreader"
	"golang.org/x/sync/errgroup"

	"github.com/acolita/sdb/internal/adapters/realnet"
	"github.com/acolita/sdb/internal/ports"
	"github.com/acolita/sdb/internal/theme"
)

// DefaultConnectTimeout bounds the dial.
const DefaultConnectTimeout = 2 * time.Second

// ConnectError reports a failed dial. It is not retried.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// errSessionOver stops the reactor once the state loop is done.
var errSessionOver = errors.New("session over")

// Client connects a terminal to a debug session.
type Client struct {
	dialer  ports.NetworkDialer
	stdin   io.Reader
	stdout  io.Writer
	prompt  string
	timeout time.Duration
	history *History
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer sets the dialer.
func WithDialer(d ports.NetworkDialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithStdio sets the keyboard and terminal streams.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(c *Client) {
		c.stdin = in
		c.stdout = out
	}
}

// WithPrompt sets the prompt.
func WithPrompt(prompt string) Option {
	return func(c *Client) { c.prompt = prompt }
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHistory shares a history between connections.
func WithHistory(h *History) Option {
	return func(c *Client) { c.history = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client reading os.Stdin and writing os.Stdout.
func New(opts ...Option) *Client {
	c := &Client{
		dialer:  realnet.NewDialer(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		prompt:  DefaultPrompt,
		timeout: DefaultConnectTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.history == nil {
		c.history = NewHistory(DefaultHistorySize)
	}
	return c
}

// History returns the client's history.
func (c *Client) History() *History {
	return c.history
}

// Connect dials addr and runs the session until the server closes the
// connection, the user sends EOF on an empty line, or ctx is cancelled.
// A server-side close returns nil.
func (c *Client) Connect(ctx context.Context, addr string) error {
	conn, err := c.dialer.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	defer conn.Close()
	c.logger.Debug("connected", slog.String("remote", addr))

	restore, raw, err := MakeRaw(c.stdin)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() {
		if err := restore(); err != nil {
			c.logger.Warn("restore terminal", slog.String("error", err.Error()))
		}
	}()

	var out io.Writer = c.stdout
	if raw {
		out = newCRLFWriter(c.stdout)
	}

	keyboard, err := cancelreader.NewReader(c.stdin)
	if err != nil {
		// Regular files cannot be polled; hide the descriptor so the
		// reader falls back to plain reads.
		keyboard, err = cancelreader.NewReader(struct{ io.Reader }{c.stdin})
		if err != nil {
			return fmt.Errorf("keyboard: %w", err)
		}
	}
	defer keyboard.Close()

	r := &reactor{
		conn:     conn,
		keyboard: keyboard,
		out:      out,
		editor:   NewEditor(c.prompt, c.history),
		keys:     make(chan []byte),
		data:     make(chan []byte),
		logger:   c.logger,
	}
	return r.run(ctx)
}

type reactor struct {
	conn     net.Conn
	keyboard cancelreader.CancelReader
	out      io.Writer
	editor   *Editor
	decoder  Decoder
	keys     chan []byte
	data     chan []byte
	logger   *slog.Logger
}

func (r *reactor) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.readKeyboard(gctx) })
	g.Go(func() error { return r.readSocket(gctx) })
	g.Go(func() error {
		defer func() {
			r.keyboard.Cancel()
			r.conn.Close()
		}()
		return r.loop(gctx)
	})

	err := g.Wait()
	if errors.Is(err, errSessionOver) {
		return nil
	}
	return err
}

func (r *reactor) readKeyboard(ctx context.Context) error {
	buf := make([]byte, 256)
	for {
		n, err := r.keyboard.Read(buf)
		if n > 0 {
			p := append([]byte(nil), buf[:n]...)
			select {
			case r.keys <- p:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			// Cancelled or stdin closed; the socket decides when we are done.
			return nil
		}
	}
}

func (r *reactor) readSocket(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.conn.Read(buf)
		if n > 0 {
			p := append([]byte(nil), buf[:n]...)
			select {
			case r.data <- p:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				close(r.data)
				return nil
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (r *reactor) loop(ctx context.Context) error {
	r.write(r.editor.Prompt())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-r.keys:
			for _, k := range r.decoder.Feed(p) {
				act := r.editor.HandleKey(k)
				r.write(act.Echo)
				if act.Send != "" {
					if _, err := io.WriteString(r.conn, act.Send); err != nil {
						return fmt.Errorf("write: %w", err)
					}
				}
				if act.Quit {
					r.write("\n")
					return errSessionOver
				}
			}

		case p, ok := <-r.data:
			if !ok {
				r.write(theme.Ended.Render("connection closed") + "\n")
				return errSessionOver
			}
			r.write(r.editor.HandleData(string(p)))
		}
	}
}

func (r *reactor) write(s string) {
	if s == "" {
		return
	}
	if _, err := io.WriteString(r.out, s); err != nil {
		r.logger.Debug("terminal write failed", slog.String("error", err.Error()))
	}
}
