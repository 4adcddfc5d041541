// Package debugger drives a debug engine: every time the debuggee stops it
// opens a session and serves a command loop on it until execution resumes.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/acolita/sdb/internal/adapters/realfs"
	"github.com/acolita/sdb/internal/config"
	"github.com/acolita/sdb/internal/engine"
	"github.com/acolita/sdb/internal/portalloc"
	"github.com/acolita/sdb/internal/ports"
	"github.com/acolita/sdb/internal/render"
	"github.com/acolita/sdb/internal/repl"
	"github.com/acolita/sdb/internal/session"
)

// Debugger serves sessions for one engine.
type Debugger struct {
	eng      engine.Engine
	renderer *render.Renderer

	mu  sync.RWMutex
	cfg *config.Config

	interactive bool
	reader      repl.LineReader
	stdin       repl.LineReader
	prompt      string
	onLoop      func(*repl.Loop)
	workDir     string
	sources     fs.FS
	sessionOpts []session.Option
	logger      *slog.Logger
	sessions    int
}

// Option customizes a Debugger.
type Option func(*debuggerDeps)

type debuggerDeps struct {
	d  *Debugger
	fs ports.FileSystem
}

// WithInteractive serves sessions on the local terminal instead of a socket.
func WithInteractive(on bool) Option {
	return func(o *debuggerDeps) { o.d.interactive = on }
}

// WithLineReader sets the command source of interactive sessions, such as a
// readline instance. Remote sessions always read the connection.
func WithLineReader(r repl.LineReader) Option {
	return func(o *debuggerDeps) { o.d.reader = r }
}

// WithPrompt sets the prompt interactive loops write before each read.
func WithPrompt(prompt string) Option {
	return func(o *debuggerDeps) { o.d.prompt = prompt }
}

// WithLoopHook is called with each loop before it runs.
func WithLoopHook(fn func(*repl.Loop)) Option {
	return func(o *debuggerDeps) { o.d.onLoop = fn }
}

// WithWorkDir sets the directory relative breakpoint files resolve against.
func WithWorkDir(dir string) Option {
	return func(o *debuggerDeps) { o.d.workDir = dir }
}

// WithSources sets the tree searched for relative breakpoint files.
func WithSources(fsys fs.FS) Option {
	return func(o *debuggerDeps) { o.d.sources = fsys }
}

// WithFileSystem sets the filesystem listings are read from.
func WithFileSystem(fsys ports.FileSystem) Option {
	return func(o *debuggerDeps) { o.fs = fsys }
}

// WithSessionOptions passes options through to every session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *debuggerDeps) { o.d.sessionOpts = append(o.d.sessionOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *debuggerDeps) { o.d.logger = logger }
}

// New returns a debugger for eng configured by cfg.
func New(eng engine.Engine, cfg *config.Config, opts ...Option) *Debugger {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	d := &Debugger{
		eng:    eng,
		cfg:    cfg,
		logger: slog.Default(),
	}
	deps := debuggerDeps{d: d, fs: realfs.New()}
	for _, o := range opts {
		o(&deps)
	}
	if d.workDir == "" {
		d.workDir, _ = os.Getwd()
	}
	d.renderer = render.New(renderOptions(cfg), deps.fs)
	return d
}

func renderOptions(cfg *config.Config) render.Options {
	return render.Options{Colorize: cfg.Display.Colorize, Style: cfg.Display.Style}
}

// Config returns the configuration later sessions use.
func (d *Debugger) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// UpdateConfig swaps the configuration. Display settings apply to the next
// render; server settings apply to the next session.
func (d *Debugger) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.renderer.SetOptions(renderOptions(cfg))
	d.logger.Info("display settings updated",
		slog.Bool("colorize", cfg.Display.Colorize),
		slog.String("style", cfg.Display.Style),
	)
}

// Renderer returns the renderer shared by every session.
func (d *Debugger) Renderer() *render.Renderer {
	return d.renderer
}

// Sessions returns the number of sessions served so far.
func (d *Debugger) Sessions() int {
	return d.sessions
}

// Serve runs sessions until the debuggee terminates or ctx is cancelled.
func (d *Debugger) Serve(ctx context.Context) error {
	for {
		stop, err := d.eng.Wait(ctx)
		if errors.Is(err, engine.ErrTerminated) {
			d.logger.Info("debuggee terminated", slog.Int("sessions", d.sessions))
			return nil
		}
		if err != nil {
			return fmt.Errorf("wait for stop: %w", err)
		}
		d.logger.Info("debuggee stopped",
			slog.String("reason", stop.Reason),
			slog.String("location", stop.Location.String()),
		)

		outcome, err := d.serveSession(ctx)
		if err != nil {
			return err
		}
		if outcome == repl.OutcomeTerminated {
			return nil
		}
	}
}

func (d *Debugger) serveSession(ctx context.Context) (repl.Outcome, error) {
	cfg := d.Config()
	sess, err := session.Open(ctx, d.sessionOptions(cfg), d.sessionOpts...)
	if err != nil {
		var full *portalloc.NoAvailablePortError
		if errors.As(err, &full) {
			return repl.OutcomeQuit, err
		}
		return repl.OutcomeQuit, fmt.Errorf("open session: %w", err)
	}
	d.sessions++
	defer func() {
		if err := sess.Close(); err != nil {
			d.logger.Warn("close session", slog.String("error", err.Error()))
		}
	}()

	logger := d.logger.With(slog.String("session_id", sess.ID))
	in, prompt := d.input(sess)
	loop := repl.New(d.eng, d.renderer, in, sess.Writer(),
		repl.Options{
			ContextLines: cfg.Display.ContextLines,
			Prompt:       prompt,
			WorkDir:      d.workDir,
		},
		repl.WithLogger(logger),
		repl.WithSessionCloser(sess.Close),
		repl.WithSources(d.sources),
	)
	if d.onLoop != nil {
		d.onLoop(loop)
	}

	outcome, err := loop.Run(ctx)
	logger.Info("session finished", slog.String("outcome", outcome.String()))
	if err != nil {
		return outcome, fmt.Errorf("command loop: %w", err)
	}
	return outcome, nil
}

func (d *Debugger) input(sess *session.Session) (repl.LineReader, string) {
	if !sess.Interactive() {
		return repl.NewLineReader(sess.Reader()), ""
	}
	if d.reader != nil {
		return d.reader, ""
	}
	// One buffered reader for the life of the debugger, so typeahead
	// survives from one stop to the next.
	if d.stdin == nil {
		d.stdin = repl.NewLineReader(sess.Reader())
	}
	return d.stdin, d.prompt
}

func (d *Debugger) sessionOptions(cfg *config.Config) session.Options {
	opts := session.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		SearchLimit:  cfg.Server.SearchLimit,
		Skew:         portalloc.SkewFromWorker(cfg.Server.WorkerID),
		ContextLines: cfg.Display.ContextLines,
		Interactive:  d.interactive,
	}
	if cfg.Server.Notify {
		opts.NotifyHost = cfg.Server.NotifyHost
	}
	if cfg.Recording.Enabled {
		opts.RecordDir = cfg.Recording.Path
	}
	return opts
}

// Close shuts the engine down when it holds resources.
func (d *Debugger) Close() error {
	if c, ok := d.eng.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
