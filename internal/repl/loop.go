// Package repl runs the debugger's command loop against a paused debuggee.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/acolita/sdb/internal/engine"
	"github.com/acolita/sdb/internal/render"
)

// State is the loop's view of the debuggee.
type State int

const (
	StateRunning State = iota
	StatePaused
	StateContinuing
	StateQuitting
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateContinuing:
		return "continuing"
	case StateQuitting:
		return "quitting"
	default:
		return "unknown"
	}
}

// Outcome is how a Run ended.
type Outcome int

const (
	// OutcomeContinue means the debuggee was resumed and may stop again.
	OutcomeContinue Outcome = iota
	// OutcomeQuit means debugging ended and the debuggee runs free.
	OutcomeQuit
	// OutcomeTerminated means the debuggee exited while paused or stepping.
	OutcomeTerminated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeQuit:
		return "quit"
	case OutcomeTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DefaultContextLines is the listing size when none is configured.
const DefaultContextLines = 60

// Options configures a Loop.
type Options struct {
	// ContextLines is the size of the implicit listing.
	ContextLines int
	// Prompt is written before each read. Remote clients draw their own.
	Prompt string
	// WorkDir anchors relative breakpoint files.
	WorkDir string
}

// Loop reads commands, runs them against the engine and writes the rendered
// output. One Loop serves one session.
type Loop struct {
	eng      engine.Engine
	syms     engine.SymbolTable
	renderer *render.Renderer
	in       LineReader
	out      io.Writer
	opts     Options
	sources  fs.FS
	logger   *slog.Logger

	// closeSession runs before the debuggee is resumed.
	closeSession func() error

	state        State
	contextLines int
	queue        []string
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithSessionCloser sets the function that ends the session before the
// debuggee resumes.
func WithSessionCloser(fn func() error) Option {
	return func(l *Loop) { l.closeSession = fn }
}

// WithSources sets the tree searched for relative breakpoint files.
// Defaults to os.DirFS(WorkDir).
func WithSources(fsys fs.FS) Option {
	return func(l *Loop) { l.sources = fsys }
}

// New returns a loop. The engine's SymbolTable is used when it has one.
func New(eng engine.Engine, renderer *render.Renderer, in LineReader, out io.Writer, opts Options, options ...Option) *Loop {
	if opts.ContextLines <= 0 {
		opts.ContextLines = DefaultContextLines
	}
	if opts.WorkDir == "" {
		opts.WorkDir, _ = os.Getwd()
	}
	l := &Loop{
		eng:          eng,
		renderer:     renderer,
		in:           in,
		out:          out,
		opts:         opts,
		logger:       slog.Default(),
		state:        StateRunning,
		contextLines: opts.ContextLines,
	}
	if syms, ok := eng.(engine.SymbolTable); ok {
		l.syms = syms
	}
	for _, o := range options {
		o(l)
	}
	if l.sources == nil && opts.WorkDir != "" {
		l.sources = os.DirFS(opts.WorkDir)
	}
	return l
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// ContextLines returns the current listing size.
func (l *Loop) ContextLines() int {
	return l.contextLines
}

// Run serves commands until the debuggee is resumed, debugging is quit, or
// the debuggee exits. End of input counts as quit.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	l.queue = nil
	l.enterPaused(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return OutcomeQuit, err
		}

		line, err := l.next()
		if errors.Is(err, io.EOF) {
			l.logger.Debug("input closed, quitting")
			line = "quit"
		} else if err != nil {
			return OutcomeQuit, fmt.Errorf("read command: %w", err)
		}

		if IsCompletion(line) {
			l.write(Reply(l.Complete(ctx, Fragment(line))))
			continue
		}

		if outcome, done := l.Execute(ctx, line); done {
			return outcome, nil
		}
	}
}

func (l *Loop) next() (string, error) {
	if len(l.queue) > 0 {
		line := l.queue[0]
		l.queue = l.queue[1:]
		return line, nil
	}
	if l.opts.Prompt != "" {
		l.write(l.opts.Prompt)
	}
	return l.in.ReadLine()
}

// Execute runs one command line. done reports that the session is over.
func (l *Loop) Execute(ctx context.Context, line string) (outcome Outcome, done bool) {
	d, err := Preprocess(line)
	if err != nil {
		l.logger.Debug("directive left unchanged", "command", line, "error", err)
	}
	if d.Line == "" {
		return OutcomeContinue, false
	}
	if d.ContextLines > 0 {
		l.contextLines = d.ContextLines
	}
	for i := 1; i < d.Repeat; i++ {
		l.queue = append(l.queue, d.Line)
	}
	l.logger.Debug("command", "command", d.Line, "repeat", d.Repeat)
	return l.dispatch(ctx, d.Line)
}

func (l *Loop) dispatch(ctx context.Context, line string) (Outcome, bool) {
	var buf render.Buffer
	word, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	next := StatePaused
	var err error
	if cmd := lookup(word); cmd != nil {
		next, err = cmd.run(l, ctx, arg, &buf)
	} else {
		err = l.evaluate(ctx, line, &buf)
	}

	if err != nil {
		l.queue = nil
		if errors.Is(err, engine.ErrTerminated) {
			buf.Line("The program finished.")
			l.flush(&buf)
			l.state = StateContinuing
			return OutcomeTerminated, true
		}
		buf.Error(err)
	}
	l.flush(&buf)

	switch next {
	case StateContinuing:
		l.queue = nil
		return OutcomeContinue, true
	case StateQuitting:
		l.queue = nil
		return OutcomeQuit, true
	case StateRunning:
		l.enterPaused(ctx)
	}
	return OutcomeContinue, false
}

// enterPaused marks the debuggee paused and shows where it is.
func (l *Loop) enterPaused(ctx context.Context) {
	l.state = StatePaused
	var buf render.Buffer
	if err := l.list(ctx, "", &buf); err != nil {
		buf.Error(err)
	}
	l.flush(&buf)
}

func (l *Loop) flush(buf *render.Buffer) {
	l.write(l.renderer.RenderAll(buf.Blocks()))
}

func (l *Loop) write(s string) {
	if s == "" {
		return
	}
	if _, err := io.WriteString(l.out, s); err != nil {
		l.logger.Debug("write failed", "error", err)
	}
}

func (l *Loop) end() error {
	if l.closeSession == nil {
		return nil
	}
	return l.closeSession()
}
