// Package session owns the transport of one debug session: the listening
// socket, the single accepted client, and the streams the command loop reads
// from and writes to.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/acolita/sdb/internal/adapters/realclock"
	"github.com/acolita/sdb/internal/adapters/realfs"
	"github.com/acolita/sdb/internal/adapters/realnet"
	"github.com/acolita/sdb/internal/portalloc"
	"github.com/acolita/sdb/internal/ports"
	"github.com/acolita/sdb/internal/recording"
	"github.com/acolita/sdb/internal/theme"
)

// State represents the session state.
type State string

const (
	StateWaiting State = "waiting" // bound, no client yet
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// Options configures a session.
type Options struct {
	Host         string
	Port         int // first port tried
	SearchLimit  int
	Skew         int
	NotifyHost   string // empty disables the discovery datagram
	ContextLines int
	Interactive  bool   // use the host's own streams, no networking
	RecordDir    string // empty disables transcript recording
}

// Session is one debug connection.
type Session struct {
	ID           string
	Ident        string
	Host         string
	Port         int
	RemoteAddr   string
	ContextLines int

	mu          sync.Mutex
	state       State
	interactive bool
	listener    net.Listener
	conn        net.Conn
	in          io.Reader
	out         io.Writer
	recorder    *recording.Recorder
	deps        deps
	logger      *slog.Logger
}

type deps struct {
	listener ports.NetworkListener
	dialer   ports.NetworkDialer
	fs       ports.FileSystem
	clock    ports.Clock
	stdin    io.Reader
	stdout   io.Writer
	notices  io.Writer
	logger   *slog.Logger
}

// Option customizes a session's collaborators.
type Option func(*deps)

// WithNetwork sets the listener used to bind and the dialer used to announce.
func WithNetwork(listener ports.NetworkListener, dialer ports.NetworkDialer) Option {
	return func(d *deps) {
		d.listener = listener
		d.dialer = dialer
	}
}

// WithFileSystem sets the filesystem transcripts are written to.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(d *deps) { d.fs = fs }
}

// WithClock sets the clock used to timestamp transcripts.
func WithClock(clock ports.Clock) Option {
	return func(d *deps) { d.clock = clock }
}

// WithStdio sets the host streams used in interactive mode and after Close.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(d *deps) {
		d.stdin = in
		d.stdout = out
	}
}

// WithNotices sets where banners and session notices are printed.
func WithNotices(w io.Writer) Option {
	return func(d *deps) { d.notices = w }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *deps) { d.logger = logger }
}

// Open starts a session. In remote mode it binds a port, announces it, prints
// the connection banner and blocks until exactly one client connects or ctx
// is cancelled.
func Open(ctx context.Context, opts Options, options ...Option) (*Session, error) {
	d := deps{
		listener: realnet.NewListener(),
		dialer:   realnet.NewDialer(),
		fs:       realfs.New(),
		clock:    realclock.New(),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		notices:  os.Stderr,
		logger:   slog.Default(),
	}
	for _, o := range options {
		o(&d)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Host:         opts.Host,
		ContextLines: opts.ContextLines,
		interactive:  opts.Interactive,
		deps:         d,
	}
	s.logger = d.logger.With(slog.String("session_id", s.ID))

	if opts.Interactive {
		s.Ident = "Local Debugger"
		s.in, s.out = d.stdin, d.stdout
		s.state = StateActive
		s.logger.Info("session opened", slog.Bool("interactive", true))
		return s, nil
	}

	alloc := portalloc.New(d.listener, d.dialer, s.logger)
	ln, port, err := alloc.Acquire(opts.Host, opts.Port, opts.SearchLimit, opts.Skew)
	if err != nil {
		return nil, err
	}
	alloc.Announce(opts.NotifyHost, port)

	s.listener = ln
	s.Port = port
	s.Ident = "Socket Debugger:" + strconv.Itoa(port)
	s.state = StateWaiting
	s.banner()

	conn, err := s.accept(ctx)
	if err != nil {
		ln.Close()
		s.state = StateClosed
		return nil, err
	}

	s.conn = conn
	s.RemoteAddr = conn.RemoteAddr().String()
	s.in, s.out = conn, conn
	if opts.RecordDir != "" {
		s.startRecording(opts.RecordDir)
	}
	s.state = StateActive
	s.say(theme.Started, fmt.Sprintf("Now in session with %s.", s.RemoteAddr))
	s.logger.Info("session opened",
		slog.Int("port", port),
		slog.String("remote", s.RemoteAddr),
	)
	return s, nil
}

func (s *Session) banner() {
	s.say(theme.Waiting, fmt.Sprintf("Ready to connect: telnet %s %d", s.Host, s.Port))
	fmt.Fprintln(s.deps.notices)
	fmt.Fprintln(s.deps.notices, theme.Waiting.Render("Type `exit` in session to continue."))
	fmt.Fprintln(s.deps.notices)
	s.say(theme.Waiting, "Waiting for client...")
}

func (s *Session) say(style lipgloss.Style, msg string) {
	fmt.Fprintln(s.deps.notices, theme.Say(s.Ident, style, msg))
}

// accept waits for one client. Cancelling ctx closes the listener to unblock Accept.
func (s *Session) accept(ctx context.Context) (net.Conn, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.listener.Close()
		case <-stop:
		}
	}()

	conn, err := s.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return conn, nil
}

func (s *Session) startRecording(dir string) {
	rec, err := recording.NewRecorder(dir, s.ID, s.Ident, s.deps.fs, s.deps.clock)
	if err != nil {
		s.logger.Warn("transcript recording disabled", slog.String("error", err.Error()))
		return
	}
	s.recorder = rec
	s.in = rec.Reader(s.in)
	s.out = rec.Writer(s.out)
	s.logger.Info("recording transcript", slog.String("path", rec.Path()))
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session still owns its streams.
func (s *Session) Active() bool {
	return s.State() == StateActive
}

// Interactive reports whether the session runs on the host's own streams.
func (s *Session) Interactive() bool {
	return s.interactive
}

// Addr returns the bound listener address, or nil for interactive sessions.
func (s *Session) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Reader returns the session's input: the client connection while active,
// the host's stdin otherwise.
func (s *Session) Reader() io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		return s.in
	}
	return s.deps.stdin
}

// Writer returns the session's output: the client connection while active,
// the host's stdout otherwise.
func (s *Session) Writer() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		return s.out
	}
	return s.deps.stdout
}

// Close ends the session: the client connection and the listener are closed
// and the host streams become current again. Only the first call has any effect.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return nil
	}
	s.state = StateClosed

	var errs []error
	if !s.interactive {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
		s.say(theme.Ended, fmt.Sprintf("Session with %s ended.", s.RemoteAddr))
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recording: %w", err))
		}
	}

	s.logger.Info("session closed")
	return errors.Join(errs...)
}
