package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/acolita/sdb/internal/config"
	"github.com/acolita/sdb/internal/debugger"
	"github.com/acolita/sdb/internal/engine"
	"github.com/acolita/sdb/internal/engine/delve"
	"github.com/acolita/sdb/internal/repl"
)

// defaultBreakpoint is installed when neither --break nor --stop-on-entry is given.
const defaultBreakpoint = "main.main"

type debugOptions struct {
	breaks      []string
	stopOnEntry bool
	dlv         string
	pkg         bool
}

func newDebugCommand(g *globalOptions, interactive bool) *cobra.Command {
	d := &debugOptions{}
	cmd := &cobra.Command{
		Use:   "serve [flags] <program> [args...]",
		Short: "Debug a program, serving sessions over TCP",
		Long: `Launch a program under Delve. Every time it stops, a session port is
bound and announced, and the debugger waits for one client.

<program> is a main package directory, a .go file, a _test.go file (its
package tests are debugged) or a compiled binary. With -m it is a package
import path.

Breakpoints use file:line, function, or either followed by ", condition".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context(), cmd, g, d, args, interactive)
		},
	}
	if interactive {
		cmd.Use = "run [flags] <program> [args...]"
		cmd.Short = "Debug a program on this terminal"
		cmd.Long = `Launch a program under Delve and debug it on this terminal, with line
editing, history and tab completion.

<program> is a main package directory, a .go file, a _test.go file or a
compiled binary. With -m it is a package import path.`
	}

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringArrayVarP(&d.breaks, "break", "b", nil, "Breakpoint to set before starting (repeatable)")
	flags.BoolVar(&d.stopOnEntry, "stop-on-entry", false, "Stop before the program runs")
	flags.StringVar(&d.dlv, "dlv", "", "Path to the dlv binary (overrides config)")
	flags.BoolVarP(&d.pkg, "package", "m", false, "Treat <program> as a package path")
	return cmd
}

func runDebug(ctx context.Context, cmd *cobra.Command, g *globalOptions, d *debugOptions, args []string, interactive bool) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	mode, program, err := resolveProgram(args[0], d.pkg)
	if err != nil {
		return err
	}
	specs, err := breakpointSpecs(d.breaks, d.stopOnEntry)
	if err != nil {
		return err
	}

	dlvPath := cfg.Engine.DlvPath
	if d.dlv != "" {
		dlvPath = d.dlv
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}

	slog.Info("launching",
		slog.String("program", program),
		slog.String("mode", mode),
		slog.Bool("interactive", interactive),
	)
	eng, err := delve.Start(ctx, delve.Config{
		DlvPath:     dlvPath,
		Mode:        mode,
		Program:     program,
		Args:        args[1:],
		Cwd:         cwd,
		BuildFlags:  cfg.Engine.BuildFlags,
		StopOnEntry: d.stopOnEntry,
		Breakpoints: specs,
		Output:      cmd.OutOrStdout(),
	}, nil, slog.Default())
	if err != nil {
		return fmt.Errorf("launch %s: %w", args[0], err)
	}

	opts := []debugger.Option{
		debugger.WithInteractive(interactive),
		debugger.WithWorkDir(cwd),
		debugger.WithLogger(slog.Default()),
	}
	if interactive {
		editor, err := newLineEditor(cfg)
		if err != nil {
			return err
		}
		if editor != nil {
			defer editor.Close()
			opts = append(opts,
				debugger.WithLineReader(editor),
				debugger.WithLoopHook(editor.completer.set),
			)
		} else {
			opts = append(opts, debugger.WithPrompt(cfg.Client.Prompt))
		}
	}

	dbg := debugger.New(eng, cfg, opts...)
	defer func() {
		if err := dbg.Close(); err != nil {
			slog.Debug("close engine", slog.String("error", err.Error()))
		}
	}()
	if w := g.watchConfig(dbg.UpdateConfig); w != nil {
		defer w.Close()
	}

	if err := dbg.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveProgram picks the Delve launch mode for arg.
func resolveProgram(arg string, pkg bool) (mode, program string, err error) {
	if pkg {
		return delve.ModeDebug, arg, nil
	}
	info, err := os.Stat(arg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("%s does not exist", arg)
		}
		return "", "", err
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", "", err
	}

	switch {
	case info.IsDir():
		return delve.ModeDebug, abs, nil
	case strings.HasSuffix(abs, "_test.go"):
		return delve.ModeTest, filepath.Dir(abs), nil
	case strings.HasSuffix(abs, ".go"):
		return delve.ModeDebug, abs, nil
	default:
		return delve.ModeExec, abs, nil
	}
}

// breakpointSpecs parses --break values. Without any, main.main is used
// unless the program stops on entry anyway.
func breakpointSpecs(values []string, stopOnEntry bool) ([]engine.BreakpointSpec, error) {
	if len(values) == 0 {
		if stopOnEntry {
			return nil, nil
		}
		return []engine.BreakpointSpec{{Function: defaultBreakpoint}}, nil
	}
	specs := make([]engine.BreakpointSpec, 0, len(values))
	for _, v := range values {
		spec, err := parseBreakFlag(v)
		if err != nil {
			return nil, fmt.Errorf("--break %q: %w", v, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// parseBreakFlag reads "file:line" or a function name, each with an
// optional ", condition". Relative files are made absolute.
func parseBreakFlag(v string) (engine.BreakpointSpec, error) {
	loc, cond, _ := strings.Cut(v, ",")
	loc = strings.TrimSpace(loc)
	spec := engine.BreakpointSpec{Condition: strings.TrimSpace(cond)}
	if loc == "" {
		return spec, errors.New("missing location")
	}

	if i := strings.LastIndex(loc, ":"); i > 0 {
		if line, err := strconv.Atoi(loc[i+1:]); err == nil {
			if line <= 0 {
				return spec, fmt.Errorf("invalid line %d", line)
			}
			file, err := filepath.Abs(loc[:i])
			if err != nil {
				return spec, err
			}
			spec.File, spec.Line = file, line
			return spec, nil
		}
	}
	if _, err := strconv.Atoi(loc); err == nil {
		return spec, errors.New("a line needs a file: use file:line")
	}
	spec.Function = loc
	return spec, nil
}

// lineEditor reads interactive commands with readline. Completion is
// answered by whichever loop is current.
type lineEditor struct {
	rl        *readline.Instance
	completer *loopCompleter
}

// newLineEditor returns nil when stdin is not a terminal.
func newLineEditor(cfg *config.Config) (*lineEditor, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, nil
	}
	completer := &loopCompleter{}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Client.Prompt,
		HistoryLimit:    cfg.Client.HistorySize,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("line editor: %w", err)
	}
	return &lineEditor{rl: rl, completer: completer}, nil
}

// ReadLine returns the next command. Ctrl-C discards the line; Ctrl-D is EOF.
func (e *lineEditor) ReadLine() (string, error) {
	line, err := e.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

func (e *lineEditor) Close() error {
	return e.rl.Close()
}

type loopCompleter struct {
	mu   sync.Mutex
	loop *repl.Loop
}

func (c *loopCompleter) set(l *repl.Loop) {
	c.mu.Lock()
	c.loop = l
	c.mu.Unlock()
}

// Do implements readline.AutoCompleter.
func (c *loopCompleter) Do(line []rune, pos int) ([][]rune, int) {
	c.mu.Lock()
	l := c.loop
	c.mu.Unlock()
	if l == nil {
		return nil, 0
	}
	return l.Do(line, pos)
}

var (
	_ readline.AutoCompleter = (*loopCompleter)(nil)
	_ repl.LineReader        = (*lineEditor)(nil)
	_ io.Closer              = (*lineEditor)(nil)
)
