package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/acolita/sdb/internal/engine"
	"github.com/acolita/sdb/internal/render"
)

// sourceLimit caps the lines shown for a definition.
const sourceLimit = 25

var errNoSymbols = errors.New("symbol lookup not supported by this engine")

type command struct {
	names []string
	usage string
	help  string
	run   func(l *Loop, ctx context.Context, arg string, buf *render.Buffer) (State, error)
}

var commands []command

func init() {
	commands = []command{
		{names: []string{"h", "help"}, help: "list commands", run: (*Loop).cmdHelp},
		{names: []string{"w", "where", "bt"}, help: "print the stack, current frame marked >", run: (*Loop).cmdWhere},
		{names: []string{"u", "up"}, help: "select the calling frame", run: (*Loop).cmdUp},
		{names: []string{"d", "down"}, help: "select the called frame", run: (*Loop).cmdDown},
		{names: []string{"s", "step"}, help: "step into the next call", run: stepper(engine.StepIn)},
		{names: []string{"n", "next"}, help: "step over the next line", run: stepper(engine.StepOver)},
		{names: []string{"r", "return"}, help: "run until the current function returns", run: stepper(engine.StepOut)},
		{names: []string{"c", "cont", "continue"}, help: "end the session and resume", run: (*Loop).cmdContinue},
		{names: []string{"q", "quit", "exit"}, help: "end the session, clear breakpoints and resume", run: (*Loop).cmdQuit},
		{names: []string{"b", "break"}, usage: "[file:line | line | func][, cond]", help: "list or set breakpoints", run: (*Loop).cmdBreak},
		{names: []string{"cl", "clear"}, usage: "[id]", help: "clear one or all breakpoints", run: (*Loop).cmdClear},
		{names: []string{"l", "list"}, usage: "[first[, last]]", help: "list source around the current line", run: (*Loop).cmdList},
		{names: []string{"lines"}, usage: "N", help: "set the listing size and list"},
		{names: []string{"p"}, usage: "expr", help: "print the value of expr", run: (*Loop).cmdPrint},
		{names: []string{"pp"}, usage: "expr", help: "print the value of expr and its members", run: (*Loop).cmdPrettyPrint},
		{names: []string{"dir"}, usage: "[expr]", help: "names in scope, or members of expr (shorthand ?)", run: (*Loop).cmdDir},
		{names: []string{"members"}, usage: "expr", help: "member names of expr (shorthand expr?)", run: (*Loop).cmdMembers},
		{names: []string{"source"}, usage: "expr", help: "source of expr's declaration (shorthand expr??)", run: (*Loop).cmdSource},
	}
}

func lookup(word string) *command {
	for i := range commands {
		for _, n := range commands[i].names {
			if n == word && commands[i].run != nil {
				return &commands[i]
			}
		}
	}
	return nil
}

func isCommand(word string) bool {
	for _, c := range commands {
		for _, n := range c.names {
			if n == word {
				return true
			}
		}
	}
	return false
}

func (l *Loop) cmdHelp(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	var sb strings.Builder
	for _, c := range commands {
		name := strings.Join(c.names, ", ")
		if c.usage != "" {
			name += " " + c.usage
		}
		fmt.Fprintf(&sb, "%-40s %s\n", name, c.help)
	}
	sb.WriteString("anything else is evaluated as an expression\n")
	buf.Plain(sb.String())
	return StatePaused, nil
}

func (l *Loop) cmdWhere(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	frames, err := l.eng.Stack(ctx)
	if err != nil {
		return StatePaused, err
	}
	selected := l.eng.Frame()
	var sb strings.Builder
	for _, f := range frames {
		marker := "  "
		if f.Index == selected {
			marker = "> "
		}
		sb.WriteString(marker + f.Location.String() + "\n")
	}
	buf.Plain(sb.String())
	return StatePaused, nil
}

func (l *Loop) cmdUp(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	return l.moveFrame(ctx, +1, "Oldest frame", buf)
}

func (l *Loop) cmdDown(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	return l.moveFrame(ctx, -1, "Newest frame", buf)
}

func (l *Loop) moveFrame(ctx context.Context, delta int, limit string, buf *render.Buffer) (State, error) {
	frames, err := l.eng.Stack(ctx)
	if err != nil {
		return StatePaused, err
	}
	idx := l.eng.Frame() + delta
	if idx < 0 || idx >= len(frames) {
		return StatePaused, errors.New(limit)
	}
	frame, err := l.eng.SelectFrame(ctx, idx)
	if err != nil {
		return StatePaused, err
	}
	buf.Plain("> " + frame.Location.String())
	if lines, err := l.renderer.Lines(frame.Location.File); err == nil && frame.Location.Line >= 1 && frame.Location.Line <= len(lines) {
		line := frame.Location.Line
		buf.Source(&render.Hint{File: frame.Location.File, Line: line}, []render.Record{
			{Text: lines[line-1], Line: line, Current: true, Breakpoint: l.breakpointLines(frame.Location.File)[line]},
		})
	}
	return StatePaused, nil
}

func stepper(kind engine.StepKind) func(*Loop, context.Context, string, *render.Buffer) (State, error) {
	return func(l *Loop, ctx context.Context, arg string, buf *render.Buffer) (State, error) {
		l.state = StateRunning
		if _, err := l.eng.Step(ctx, kind); err != nil {
			if errors.Is(err, engine.ErrTerminated) {
				return StateContinuing, err
			}
			l.state = StatePaused
			return StatePaused, err
		}
		return StateRunning, nil
	}
}

func (l *Loop) cmdContinue(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	l.state = StateContinuing
	if err := l.end(); err != nil {
		l.logger.Debug("closing session", "error", err)
	}
	if err := l.eng.Continue(ctx); err != nil && !errors.Is(err, engine.ErrTerminated) {
		l.logger.Warn("continue failed", "error", err)
	}
	return StateContinuing, nil
}

func (l *Loop) cmdQuit(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	l.state = StateQuitting
	if err := l.end(); err != nil {
		l.logger.Debug("closing session", "error", err)
	}
	if err := l.eng.Quit(ctx); err != nil {
		l.logger.Warn("quit failed", "error", err)
	}
	return StateQuitting, nil
}

func (l *Loop) cmdBreak(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	if arg == "" {
		bps := l.eng.Breakpoints()
		if len(bps) == 0 {
			buf.Line("No breakpoints.")
			return StatePaused, nil
		}
		var sb strings.Builder
		for _, bp := range bps {
			sb.WriteString(bp.String() + "\n")
		}
		buf.Plain(sb.String())
		return StatePaused, nil
	}

	spec, err := l.parseBreakpoint(arg)
	if err != nil {
		return StatePaused, err
	}
	bp, err := l.eng.SetBreakpoint(ctx, spec)
	if err != nil {
		return StatePaused, err
	}
	buf.Plain(bp.String())
	return StatePaused, nil
}

func (l *Loop) cmdClear(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	var ids []int
	if arg == "" {
		for _, bp := range l.eng.Breakpoints() {
			ids = append(ids, bp.ID)
		}
	} else {
		for _, field := range strings.Fields(arg) {
			id, err := strconv.Atoi(field)
			if err != nil {
				return StatePaused, fmt.Errorf("invalid breakpoint number %q", field)
			}
			ids = append(ids, id)
		}
	}

	var sb strings.Builder
	for _, id := range ids {
		if err := l.eng.ClearBreakpoint(ctx, id); err != nil {
			buf.Plain(sb.String())
			return StatePaused, err
		}
		fmt.Fprintf(&sb, "Deleted breakpoint %d\n", id)
	}
	buf.Plain(sb.String())
	return StatePaused, nil
}

func (l *Loop) cmdList(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	return StatePaused, l.list(ctx, arg, buf)
}

// list shows a window of the selected frame's file. Without arguments the
// window holds ContextLines lines around the current line.
func (l *Loop) list(ctx context.Context, arg string, buf *render.Buffer) error {
	loc := l.eng.Location()
	if loc.File == "" {
		return errors.New("no source location")
	}
	lines, err := l.renderer.Lines(loc.File)
	if err != nil {
		return fmt.Errorf("could not read source: %w", err)
	}

	var first, last int
	if arg == "" {
		first, last = window(loc.Line, l.contextLines, len(lines))
	} else {
		first, last, err = listRange(arg, len(lines))
		if err != nil {
			return err
		}
	}
	if first > last {
		return nil
	}

	marks := l.breakpointLines(loc.File)
	records := make([]render.Record, 0, last-first+1)
	for n := first; n <= last; n++ {
		records = append(records, render.Record{
			Text:       lines[n-1],
			Line:       n,
			Current:    n == loc.Line,
			Breakpoint: marks[n],
		})
	}
	buf.Source(&render.Hint{File: loc.File, Line: first}, records)
	return nil
}

// window returns n lines around cur, shifted to fit in [1, total].
func window(cur, n, total int) (first, last int) {
	before := (n - 1) / 2
	first = max(1, cur-before)
	last = first + n - 1
	if last > total {
		last = total
		first = max(1, last-n+1)
	}
	return first, last
}

// listRange parses "first[, last]". A single line lists 11 lines around it;
// a last smaller than first is a count.
func listRange(arg string, total int) (first, last int, err error) {
	a, b, hasLast := strings.Cut(arg, ",")
	first, err = strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid line number %q", strings.TrimSpace(a))
	}
	if hasLast {
		last, err = strconv.Atoi(strings.TrimSpace(b))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid line number %q", strings.TrimSpace(b))
		}
		if last < first {
			last = first + last
		}
	} else {
		first = max(1, first-5)
		last = first + 10
	}
	first = max(1, first)
	last = min(last, total)
	if first > total {
		return 0, 0, fmt.Errorf("line %d out of range (file has %d lines)", first, total)
	}
	return first, last, nil
}

func (l *Loop) breakpointLines(file string) map[int]bool {
	marks := make(map[int]bool)
	for _, bp := range l.eng.Breakpoints() {
		if bp.File == file && bp.Verified {
			marks[bp.Line] = true
		}
	}
	return marks
}

func (l *Loop) cmdPrint(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	if arg == "" {
		return StatePaused, errors.New("usage: p expr")
	}
	return StatePaused, l.evaluate(ctx, arg, buf)
}

func (l *Loop) cmdPrettyPrint(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	if arg == "" {
		return StatePaused, errors.New("usage: pp expr")
	}
	v, err := l.eng.Evaluate(ctx, arg)
	if err != nil {
		return StatePaused, err
	}
	buf.Text(v.Result, true)
	if !v.HasChildren || l.syms == nil {
		return StatePaused, nil
	}
	members, err := l.syms.Members(ctx, arg)
	if err != nil {
		return StatePaused, err
	}
	var sb strings.Builder
	for _, m := range members {
		if m.Type != "" {
			fmt.Fprintf(&sb, "  %s %s = %s\n", m.Name, m.Type, m.Value)
		} else {
			fmt.Fprintf(&sb, "  %s = %s\n", m.Name, m.Value)
		}
	}
	buf.Line(sb.String())
	return StatePaused, nil
}

func (l *Loop) evaluate(ctx context.Context, expr string, buf *render.Buffer) error {
	v, err := l.eng.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	buf.Text(v.Result, true)
	return nil
}

func (l *Loop) cmdDir(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	if arg != "" {
		return l.cmdMembers(ctx, arg, buf)
	}
	if l.syms == nil {
		return StatePaused, errNoSymbols
	}
	names, err := l.syms.ScopeNames(ctx)
	if err != nil {
		return StatePaused, err
	}
	buf.Printf("%v", names)
	return StatePaused, nil
}

func (l *Loop) cmdMembers(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	if arg == "" {
		return StatePaused, errors.New("usage: members expr")
	}
	if l.syms == nil {
		return StatePaused, errNoSymbols
	}
	members, err := l.syms.Members(ctx, arg)
	if err != nil {
		return StatePaused, err
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	buf.Printf("%v", names)
	return StatePaused, nil
}

func (l *Loop) cmdSource(ctx context.Context, arg string, buf *render.Buffer) (State, error) {
	if arg == "" {
		return StatePaused, errors.New("usage: source expr")
	}
	if l.syms == nil {
		return StatePaused, errNoSymbols
	}
	span, err := l.syms.Definition(ctx, arg)
	if err != nil {
		return StatePaused, err
	}
	lines, err := l.renderer.Lines(span.File)
	if err != nil {
		return StatePaused, fmt.Errorf("could not read source: %w", err)
	}
	last := min(span.EndLine, span.Line+sourceLimit-1, len(lines))
	var records []render.Record
	for n := span.Line; n <= last; n++ {
		records = append(records, render.Record{Text: lines[n-1]})
	}
	buf.Append(render.Block{Records: records, Hint: &render.Hint{File: span.File, Line: span.Line}})
	return StatePaused, nil
}
