// Package delve implements engine.Engine on top of Delve's DAP server.
package delve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/acolita/sdb/internal/engine"
	"github.com/acolita/sdb/internal/engine/dap"
	"github.com/acolita/sdb/internal/gosrc"
)

const (
	// maxFrames bounds stack traces.
	maxFrames = 50

	stoppedQueueSize = 32
)

// Launch modes understood by Delve.
const (
	ModeDebug = "debug"
	ModeExec  = "exec"
	ModeTest  = "test"
)

// Config describes the debuggee and how Delve is started.
type Config struct {
	DlvPath     string
	Mode        string
	Program     string
	Args        []string
	Cwd         string
	BuildFlags  string
	StopOnEntry bool

	// Breakpoints are installed before the program starts.
	Breakpoints []engine.BreakpointSpec

	// Output receives the debuggee's output. Defaults to io.Discard.
	Output io.Writer

	// Sources resolves absolute source paths with the leading slash removed.
	// Defaults to os.DirFS("/").
	Sources fs.FS
}

// Engine drives one Delve debug session.
type Engine struct {
	cfg     Config
	client  *dap.Client
	sources fs.FS
	logger  *slog.Logger
	closeFn func() error

	stopped     chan godap.StoppedEventBody
	initialized chan struct{}
	terminated  chan struct{}
	initOnce    sync.Once
	termOnce    sync.Once

	mu       sync.Mutex
	threadID int
	frames   []engine.Frame
	frame    int
	fileBPs  map[string][]engine.Breakpoint
	funcBPs  []engine.Breakpoint
}

var (
	_ engine.Engine      = (*Engine)(nil)
	_ engine.SymbolTable = (*Engine)(nil)
)

// Attach runs the DAP launch sequence over t: initialize, launch, wait for
// initialized, install breakpoints, configurationDone.
func Attach(ctx context.Context, t dap.Transport, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDebug
	}
	sources := cfg.Sources
	if sources == nil {
		sources = os.DirFS("/")
	}

	e := &Engine{
		cfg:         cfg,
		client:      dap.NewClient(t),
		sources:     sources,
		logger:      logger,
		stopped:     make(chan godap.StoppedEventBody, stoppedQueueSize),
		initialized: make(chan struct{}),
		terminated:  make(chan struct{}),
		fileBPs:     make(map[string][]engine.Breakpoint),
	}
	e.client.OnInitialized(func() {
		e.initOnce.Do(func() { close(e.initialized) })
	})
	e.client.OnStopped(e.queueStop)
	e.client.OnExited(func(body godap.ExitedEventBody) {
		e.logger.Info("debuggee exited", "exit_code", body.ExitCode)
	})
	e.client.OnTerminated(func() {
		e.termOnce.Do(func() { close(e.terminated) })
	})
	e.client.OnOutput(func(body godap.OutputEventBody) {
		if body.Category == "telemetry" {
			return
		}
		_, _ = io.WriteString(e.cfg.Output, body.Output)
	})

	if err := e.launch(ctx); err != nil {
		_ = e.client.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) launch(ctx context.Context) error {
	if _, err := e.client.Initialize(ctx, godap.InitializeRequestArguments{
		ClientID:             "sdb",
		ClientName:           "sdb",
		AdapterID:            "go",
		PathFormat:           "path",
		LinesStartAt1:        true,
		ColumnsStartAt1:      true,
		SupportsVariableType: true,
	}); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if err := e.client.Launch(ctx, dap.LaunchArguments{
		Mode:                e.cfg.Mode,
		Program:             e.cfg.Program,
		Args:                e.cfg.Args,
		Cwd:                 e.cfg.Cwd,
		BuildFlags:          e.cfg.BuildFlags,
		StopOnEntry:         e.cfg.StopOnEntry,
		ShowGlobalVariables: true,
	}); err != nil {
		var respErr *dap.ResponseError
		if errors.As(err, &respErr) {
			return errors.New(respErr.Message)
		}
		return fmt.Errorf("launch: %w", err)
	}

	select {
	case <-e.initialized:
	case <-e.terminated:
		return engine.ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, spec := range e.cfg.Breakpoints {
		bp, err := e.SetBreakpoint(ctx, spec)
		if err != nil {
			e.logger.Warn("breakpoint not installed", "location", specString(spec), "error", err)
			continue
		}
		e.logger.Debug("breakpoint installed", "id", bp.ID, "location", specString(spec))
	}

	if err := e.client.ConfigurationDone(ctx); err != nil {
		return fmt.Errorf("configurationDone: %w", err)
	}
	return nil
}

func specString(spec engine.BreakpointSpec) string {
	if spec.Function != "" {
		return spec.Function
	}
	return fmt.Sprintf("%s:%d", spec.File, spec.Line)
}

func (e *Engine) queueStop(body godap.StoppedEventBody) {
	select {
	case e.stopped <- body:
	default:
		e.logger.Warn("stop event dropped", "reason", body.Reason, "thread", body.ThreadId)
	}
}

func (e *Engine) isTerminated() bool {
	select {
	case <-e.terminated:
		return true
	default:
		return false
	}
}

// Wait blocks until the next stop.
func (e *Engine) Wait(ctx context.Context) (engine.Stop, error) {
	if e.isTerminated() {
		return engine.Stop{}, engine.ErrTerminated
	}
	select {
	case body := <-e.stopped:
		return e.onStop(ctx, body)
	case <-e.terminated:
		return engine.Stop{}, engine.ErrTerminated
	case <-ctx.Done():
		return engine.Stop{}, ctx.Err()
	}
}

func (e *Engine) onStop(ctx context.Context, body godap.StoppedEventBody) (engine.Stop, error) {
	threadID := body.ThreadId
	if threadID == 0 {
		threads, err := e.client.Threads(ctx)
		if err != nil {
			return engine.Stop{}, e.translate(err)
		}
		if len(threads) == 0 {
			return engine.Stop{}, fmt.Errorf("no threads: %w", engine.ErrNotFound)
		}
		threadID = threads[0].Id
	}

	e.mu.Lock()
	e.threadID = threadID
	e.frames = nil
	e.frame = 0
	e.mu.Unlock()

	frames, err := e.Stack(ctx)
	if err != nil {
		return engine.Stop{}, err
	}

	stop := engine.Stop{
		Reason:      body.Reason,
		Description: body.Description,
		ThreadID:    threadID,
	}
	if len(frames) > 0 {
		stop.Location = frames[0].Location
	}
	e.logger.Debug("debuggee stopped", "reason", stop.Reason, "location", stop.Location.String())
	return stop, nil
}

// translate maps errors seen after the debuggee went away to ErrTerminated.
func (e *Engine) translate(err error) error {
	if err == nil {
		return nil
	}
	if e.isTerminated() || errors.Is(err, dap.ErrClientClosed) {
		return engine.ErrTerminated
	}
	return err
}

// Location returns the position of the selected frame.
func (e *Engine) Location() engine.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frame < len(e.frames) {
		return e.frames[e.frame].Location
	}
	return engine.Location{}
}

// Step executes one step and waits for the following stop.
func (e *Engine) Step(ctx context.Context, kind engine.StepKind) (engine.Stop, error) {
	if e.isTerminated() {
		return engine.Stop{}, engine.ErrTerminated
	}
	threadID := e.thread()

	var err error
	switch kind {
	case engine.StepOver:
		err = e.client.Next(ctx, threadID)
	case engine.StepIn:
		err = e.client.StepIn(ctx, threadID)
	case engine.StepOut:
		err = e.client.StepOut(ctx, threadID)
	default:
		return engine.Stop{}, fmt.Errorf("unknown step kind %d", kind)
	}
	if err != nil {
		return engine.Stop{}, e.translate(err)
	}
	e.invalidate()
	return e.Wait(ctx)
}

// Continue resumes the debuggee.
func (e *Engine) Continue(ctx context.Context) error {
	if e.isTerminated() {
		return engine.ErrTerminated
	}
	err := e.client.Continue(ctx, e.thread())
	e.invalidate()
	return e.translate(err)
}

// Quit removes every breakpoint and lets the debuggee run to completion.
func (e *Engine) Quit(ctx context.Context) error {
	if e.isTerminated() {
		return nil
	}

	e.mu.Lock()
	files := make([]string, 0, len(e.fileBPs))
	for file := range e.fileBPs {
		files = append(files, file)
	}
	hasFuncs := len(e.funcBPs) > 0
	e.fileBPs = make(map[string][]engine.Breakpoint)
	e.funcBPs = nil
	e.mu.Unlock()

	var errs []error
	sort.Strings(files)
	for _, file := range files {
		if _, err := e.client.SetBreakpoints(ctx, godap.SetBreakpointsArguments{
			Source:      godap.Source{Path: file},
			Breakpoints: []godap.SourceBreakpoint{},
		}); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", file, err))
		}
	}
	if hasFuncs {
		if _, err := e.client.SetFunctionBreakpoints(ctx, godap.SetFunctionBreakpointsArguments{
			Breakpoints: []godap.FunctionBreakpoint{},
		}); err != nil {
			errs = append(errs, fmt.Errorf("clear function breakpoints: %w", err))
		}
	}
	if err := e.Continue(ctx); err != nil && !errors.Is(err, engine.ErrTerminated) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) thread() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threadID
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.frames = nil
	e.frame = 0
	e.mu.Unlock()
}

// Stack returns the frames of the stopped thread, innermost first.
func (e *Engine) Stack(ctx context.Context) ([]engine.Frame, error) {
	e.mu.Lock()
	if e.frames != nil {
		frames := append([]engine.Frame(nil), e.frames...)
		e.mu.Unlock()
		return frames, nil
	}
	threadID := e.threadID
	e.mu.Unlock()

	stack, err := e.client.StackTrace(ctx, godap.StackTraceArguments{ThreadId: threadID, Levels: maxFrames})
	if err != nil {
		return nil, e.translate(err)
	}

	frames := make([]engine.Frame, len(stack))
	for i, sf := range stack {
		loc := engine.Location{Line: sf.Line, Function: sf.Name}
		if sf.Source != nil {
			loc.File = sf.Source.Path
		}
		frames[i] = engine.Frame{Index: i, ID: sf.Id, Location: loc}
	}

	e.mu.Lock()
	e.frames = frames
	e.mu.Unlock()
	return append([]engine.Frame(nil), frames...), nil
}

// SelectFrame makes frame index current.
func (e *Engine) SelectFrame(ctx context.Context, index int) (engine.Frame, error) {
	frames, err := e.Stack(ctx)
	if err != nil {
		return engine.Frame{}, err
	}
	if index < 0 || index >= len(frames) {
		return engine.Frame{}, fmt.Errorf("frame %d: %w", index, engine.ErrNotFound)
	}
	e.mu.Lock()
	e.frame = index
	e.mu.Unlock()
	return frames[index], nil
}

// Frame returns the selected frame index.
func (e *Engine) Frame() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

func (e *Engine) frameID(ctx context.Context) (int, error) {
	frames, err := e.Stack(ctx)
	if err != nil {
		return 0, err
	}
	idx := e.Frame()
	if idx >= len(frames) {
		return 0, fmt.Errorf("no frame selected: %w", engine.ErrNotFound)
	}
	return frames[idx].ID, nil
}

// Evaluate evaluates expr in the selected frame.
func (e *Engine) Evaluate(ctx context.Context, expr string) (engine.Value, error) {
	res, err := e.evaluate(ctx, expr)
	if err != nil {
		return engine.Value{}, err
	}
	return engine.Value{
		Expr:        expr,
		Result:      res.Result,
		Type:        res.Type,
		HasChildren: res.VariablesReference > 0,
	}, nil
}

func (e *Engine) evaluate(ctx context.Context, expr string) (godap.EvaluateResponseBody, error) {
	frameID, err := e.frameID(ctx)
	if err != nil {
		return godap.EvaluateResponseBody{}, err
	}
	res, err := e.client.Evaluate(ctx, godap.EvaluateArguments{
		Expression: expr,
		FrameId:    frameID,
		Context:    "repl",
	})
	if err != nil {
		var respErr *dap.ResponseError
		if errors.As(err, &respErr) {
			return godap.EvaluateResponseBody{}, errors.New(respErr.Message)
		}
		return godap.EvaluateResponseBody{}, e.translate(err)
	}
	return res, nil
}

// SetBreakpoint installs a line or function breakpoint. Line breakpoints need
// an absolute file path.
func (e *Engine) SetBreakpoint(ctx context.Context, spec engine.BreakpointSpec) (engine.Breakpoint, error) {
	if spec.Function != "" {
		return e.setFunctionBreakpoint(ctx, spec)
	}
	if spec.File == "" || spec.Line <= 0 {
		return engine.Breakpoint{}, fmt.Errorf("invalid breakpoint location %q", specString(spec))
	}

	e.mu.Lock()
	prev := e.fileBPs[spec.File]
	e.mu.Unlock()

	want := append(append([]engine.Breakpoint(nil), prev...), engine.Breakpoint{
		File:      spec.File,
		Line:      spec.Line,
		Condition: spec.Condition,
	})
	got, err := e.client.SetBreakpoints(ctx, godap.SetBreakpointsArguments{
		Source:      godap.Source{Path: spec.File},
		Breakpoints: sourceBreakpoints(want),
	})
	if err != nil {
		return engine.Breakpoint{}, e.translate(err)
	}
	merged := merge(want, got)

	added := merged[len(merged)-1]
	if !added.Verified {
		// Drop the rejected breakpoint again.
		if _, err := e.client.SetBreakpoints(ctx, godap.SetBreakpointsArguments{
			Source:      godap.Source{Path: spec.File},
			Breakpoints: sourceBreakpoints(prev),
		}); err != nil {
			e.logger.Debug("restore breakpoints failed", "file", spec.File, "error", err)
		}
		return engine.Breakpoint{}, rejected(added)
	}

	e.mu.Lock()
	e.fileBPs[spec.File] = merged
	e.mu.Unlock()
	return added, nil
}

func (e *Engine) setFunctionBreakpoint(ctx context.Context, spec engine.BreakpointSpec) (engine.Breakpoint, error) {
	e.mu.Lock()
	prev := e.funcBPs
	e.mu.Unlock()

	want := append(append([]engine.Breakpoint(nil), prev...), engine.Breakpoint{
		Function:  spec.Function,
		Condition: spec.Condition,
	})
	got, err := e.client.SetFunctionBreakpoints(ctx, godap.SetFunctionBreakpointsArguments{
		Breakpoints: functionBreakpoints(want),
	})
	if err != nil {
		return engine.Breakpoint{}, e.translate(err)
	}
	merged := merge(want, got)

	added := merged[len(merged)-1]
	if !added.Verified {
		if _, err := e.client.SetFunctionBreakpoints(ctx, godap.SetFunctionBreakpointsArguments{
			Breakpoints: functionBreakpoints(prev),
		}); err != nil {
			e.logger.Debug("restore function breakpoints failed", "error", err)
		}
		return engine.Breakpoint{}, rejected(added)
	}

	e.mu.Lock()
	e.funcBPs = merged
	e.mu.Unlock()
	return added, nil
}

func rejected(bp engine.Breakpoint) error {
	if bp.Message != "" {
		return fmt.Errorf("could not set breakpoint at %s: %s", bpWhere(bp), bp.Message)
	}
	return fmt.Errorf("could not set breakpoint at %s", bpWhere(bp))
}

func bpWhere(bp engine.Breakpoint) string {
	if bp.Function != "" {
		return bp.Function
	}
	return fmt.Sprintf("%s:%d", bp.File, bp.Line)
}

// merge copies adapter state into the requested breakpoints, index by index.
func merge(want []engine.Breakpoint, got []godap.Breakpoint) []engine.Breakpoint {
	out := append([]engine.Breakpoint(nil), want...)
	for i := range out {
		if i >= len(got) {
			out[i].Verified = false
			continue
		}
		out[i].ID = got[i].Id
		out[i].Verified = got[i].Verified
		out[i].Message = got[i].Message
		if got[i].Line > 0 {
			out[i].Line = got[i].Line
		}
		if got[i].Source != nil && got[i].Source.Path != "" {
			out[i].File = got[i].Source.Path
		}
	}
	return out
}

func sourceBreakpoints(bps []engine.Breakpoint) []godap.SourceBreakpoint {
	out := make([]godap.SourceBreakpoint, len(bps))
	for i, bp := range bps {
		out[i] = godap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition}
	}
	return out
}

func functionBreakpoints(bps []engine.Breakpoint) []godap.FunctionBreakpoint {
	out := make([]godap.FunctionBreakpoint, len(bps))
	for i, bp := range bps {
		out[i] = godap.FunctionBreakpoint{Name: bp.Function, Condition: bp.Condition}
	}
	return out
}

// ClearBreakpoint removes breakpoint id.
func (e *Engine) ClearBreakpoint(ctx context.Context, id int) error {
	e.mu.Lock()
	for file, bps := range e.fileBPs {
		for i, bp := range bps {
			if bp.ID != id {
				continue
			}
			rest := append(append([]engine.Breakpoint(nil), bps[:i]...), bps[i+1:]...)
			e.mu.Unlock()

			got, err := e.client.SetBreakpoints(ctx, godap.SetBreakpointsArguments{
				Source:      godap.Source{Path: file},
				Breakpoints: sourceBreakpoints(rest),
			})
			if err != nil {
				return e.translate(err)
			}
			e.mu.Lock()
			if len(rest) == 0 {
				delete(e.fileBPs, file)
			} else {
				e.fileBPs[file] = merge(rest, got)
			}
			e.mu.Unlock()
			return nil
		}
	}
	for i, bp := range e.funcBPs {
		if bp.ID != id {
			continue
		}
		rest := append(append([]engine.Breakpoint(nil), e.funcBPs[:i]...), e.funcBPs[i+1:]...)
		e.mu.Unlock()

		got, err := e.client.SetFunctionBreakpoints(ctx, godap.SetFunctionBreakpointsArguments{
			Breakpoints: functionBreakpoints(rest),
		})
		if err != nil {
			return e.translate(err)
		}
		e.mu.Lock()
		e.funcBPs = merge(rest, got)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return fmt.Errorf("breakpoint %d: %w", id, engine.ErrNotFound)
}

// Breakpoints returns the installed breakpoints ordered by ID.
func (e *Engine) Breakpoints() []engine.Breakpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engine.Breakpoint
	for _, bps := range e.fileBPs {
		out = append(out, bps...)
	}
	out = append(out, e.funcBPs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScopeNames returns the local names of the selected frame.
func (e *Engine) ScopeNames(ctx context.Context) ([]string, error) {
	return e.names(ctx, func(scope godap.Scope) bool { return scope.Name == "Locals" || scope.Name == "Arguments" })
}

// VisibleNames returns locals, package globals and builtins.
func (e *Engine) VisibleNames(ctx context.Context) ([]string, error) {
	names, err := e.names(ctx, func(scope godap.Scope) bool { return scope.Name != "Registers" })
	if err != nil {
		return nil, err
	}
	return dedupe(append(names, engine.Builtins...)), nil
}

func (e *Engine) names(ctx context.Context, include func(godap.Scope) bool) ([]string, error) {
	frameID, err := e.frameID(ctx)
	if err != nil {
		return nil, err
	}
	scopes, err := e.client.Scopes(ctx, frameID)
	if err != nil {
		return nil, e.translate(err)
	}

	var names []string
	for _, scope := range scopes {
		if !include(scope) || scope.VariablesReference == 0 {
			continue
		}
		vars, err := e.client.Variables(ctx, scope.VariablesReference)
		if err != nil {
			return nil, e.translate(err)
		}
		for _, v := range vars {
			name := v.Name
			// Globals are reported package-qualified.
			if strings.HasPrefix(scope.Name, "Globals") {
				if i := strings.LastIndex(name, "."); i >= 0 {
					name = name[i+1:]
				}
			}
			if !engine.IsReserved(name) {
				names = append(names, name)
			}
		}
	}
	return dedupe(names), nil
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i > 0 && n == names[i-1] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Members returns the children of the value of expr.
func (e *Engine) Members(ctx context.Context, expr string) ([]engine.Variable, error) {
	res, err := e.evaluate(ctx, expr)
	if err != nil {
		return nil, err
	}
	if res.VariablesReference == 0 {
		return nil, nil
	}
	vars, err := e.client.Variables(ctx, res.VariablesReference)
	if err != nil {
		return nil, e.translate(err)
	}
	out := make([]engine.Variable, 0, len(vars))
	for _, v := range vars {
		if engine.IsReserved(v.Name) {
			continue
		}
		out = append(out, engine.Variable{Name: v.Name, Value: v.Value, Type: v.Type})
	}
	return out, nil
}

// Definition finds the declaration of expr: a function or type name is
// looked up directly, anything else through the type of its value.
func (e *Engine) Definition(ctx context.Context, expr string) (engine.Span, error) {
	loc := e.Location()
	if loc.File == "" {
		return engine.Span{}, fmt.Errorf("%s: %w", expr, engine.ErrNotFound)
	}
	dir := path.Dir(fsPath(loc.File))

	candidates := []string{expr}
	if res, err := e.evaluate(ctx, expr); err == nil {
		if res.Type != "" {
			candidates = append(candidates, typeName(res.Type))
		}
		if strings.HasPrefix(res.Type, "func") {
			candidates = append(candidates, res.Result)
		}
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		decl, err := gosrc.FindInDir(e.sources, dir, c)
		if err == nil {
			return engine.Span{File: "/" + decl.File, Line: decl.Line, EndLine: decl.EndLine}, nil
		}
	}
	return engine.Span{}, fmt.Errorf("%s: %w", expr, engine.ErrNotFound)
}

// typeName reduces "*main.Server" or "[]main.Item" to "main.Server" / "main.Item".
func typeName(t string) string {
	t = strings.TrimLeft(t, "*[]")
	if i := strings.LastIndex(t, "]"); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimLeft(t, "*")
}

func fsPath(p string) string {
	return strings.TrimPrefix(path.Clean(p), "/")
}

// Close ends the debug session and stops Delve.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	var errs []error
	if !e.isTerminated() {
		if err := e.client.Disconnect(ctx, true); err != nil && !errors.Is(err, dap.ErrClientClosed) {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}
	if err := e.client.Close(); err != nil && !isClosedErr(err) {
		errs = append(errs, err)
	}
	if e.closeFn != nil {
		if err := e.closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
