// Package fakeengine provides a scripted engine.Engine for tests.
package fakeengine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/acolita/sdb/internal/engine"
)

type scriptedStop struct {
	stop   engine.Stop
	frames []engine.Frame
}

// Engine replays queued stops. Once the queue is empty, Wait and Step
// report engine.ErrTerminated.
type Engine struct {
	mu     sync.Mutex
	stops  []scriptedStop
	frames []engine.Frame
	frame  int
	bps    []engine.Breakpoint
	nextID int
	calls  []string

	// Values answers Evaluate. Missing expressions fail.
	Values map[string]engine.Value
	// Locals and Globals answer ScopeNames and VisibleNames.
	Locals  []string
	Globals []string
	// MemberValues answers Members.
	MemberValues map[string][]engine.Variable
	// Definitions answers Definition.
	Definitions map[string]engine.Span
	// BreakpointErr, when set, fails SetBreakpoint.
	BreakpointErr error
}

var (
	_ engine.Engine      = (*Engine)(nil)
	_ engine.SymbolTable = (*Engine)(nil)
)

// New returns an engine with nothing queued.
func New() *Engine {
	return &Engine{
		Values:       make(map[string]engine.Value),
		MemberValues: make(map[string][]engine.Variable),
		Definitions:  make(map[string]engine.Span),
	}
}

// PushStop queues a stop. Without frames, the stack is the stop location alone.
func (e *Engine) PushStop(stop engine.Stop, frames ...engine.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(frames) == 0 {
		frames = []engine.Frame{{Index: 0, ID: 1, Location: stop.Location}}
	}
	e.stops = append(e.stops, scriptedStop{stop: stop, frames: frames})
}

// Calls returns the recorded execution calls ("wait", "next", "continue", ...).
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *Engine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

// Wait pops the next queued stop.
func (e *Engine) Wait(ctx context.Context) (engine.Stop, error) {
	if err := ctx.Err(); err != nil {
		return engine.Stop{}, err
	}
	e.record("wait")
	return e.pop()
}

func (e *Engine) pop() (engine.Stop, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.stops) == 0 {
		e.frames = nil
		return engine.Stop{}, engine.ErrTerminated
	}
	next := e.stops[0]
	e.stops = e.stops[1:]
	e.frames = next.frames
	e.frame = 0
	return next.stop, nil
}

// Location returns the selected frame's location.
func (e *Engine) Location() engine.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frame < len(e.frames) {
		return e.frames[e.frame].Location
	}
	return engine.Location{}
}

// Step records the step and pops the next stop.
func (e *Engine) Step(ctx context.Context, kind engine.StepKind) (engine.Stop, error) {
	e.record(kind.String())
	return e.pop()
}

// Continue records the call.
func (e *Engine) Continue(ctx context.Context) error {
	e.record("continue")
	return nil
}

// Quit drops every breakpoint and records the call.
func (e *Engine) Quit(ctx context.Context) error {
	e.mu.Lock()
	e.bps = nil
	e.mu.Unlock()
	e.record("quit")
	return nil
}

// SetBreakpoint installs a verified breakpoint.
func (e *Engine) SetBreakpoint(ctx context.Context, spec engine.BreakpointSpec) (engine.Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BreakpointErr != nil {
		return engine.Breakpoint{}, e.BreakpointErr
	}
	e.nextID++
	bp := engine.Breakpoint{
		ID:        e.nextID,
		File:      spec.File,
		Line:      spec.Line,
		Function:  spec.Function,
		Condition: spec.Condition,
		Verified:  true,
	}
	e.bps = append(e.bps, bp)
	return bp, nil
}

// ClearBreakpoint removes breakpoint id.
func (e *Engine) ClearBreakpoint(ctx context.Context, id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, bp := range e.bps {
		if bp.ID == id {
			e.bps = append(e.bps[:i], e.bps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d: %w", id, engine.ErrNotFound)
}

// Breakpoints returns the installed breakpoints ordered by ID.
func (e *Engine) Breakpoints() []engine.Breakpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]engine.Breakpoint(nil), e.bps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stack returns the frames of the current stop.
func (e *Engine) Stack(ctx context.Context) ([]engine.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Frame(nil), e.frames...), nil
}

// SelectFrame selects frame index.
func (e *Engine) SelectFrame(ctx context.Context, index int) (engine.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.frames) {
		return engine.Frame{}, fmt.Errorf("frame %d: %w", index, engine.ErrNotFound)
	}
	e.frame = index
	return e.frames[index], nil
}

// Frame returns the selected frame index.
func (e *Engine) Frame() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// Evaluate looks expr up in Values.
func (e *Engine) Evaluate(ctx context.Context, expr string) (engine.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.Values[expr]
	if !ok {
		return engine.Value{}, fmt.Errorf("could not find symbol value for %s", expr)
	}
	v.Expr = expr
	return v, nil
}

// ScopeNames returns Locals.
func (e *Engine) ScopeNames(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Locals...), nil
}

// VisibleNames returns Locals, Globals and the Go builtins.
func (e *Engine) VisibleNames(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := append(append(append([]string(nil), e.Locals...), e.Globals...), engine.Builtins...)
	return names, nil
}

// Members looks expr up in MemberValues.
func (e *Engine) Members(ctx context.Context, expr string) ([]engine.Variable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vars, ok := e.MemberValues[expr]
	if !ok {
		if _, known := e.Values[expr]; !known {
			return nil, fmt.Errorf("could not find symbol value for %s", expr)
		}
	}
	return vars, nil
}

// Definition looks expr up in Definitions.
func (e *Engine) Definition(ctx context.Context, expr string) (engine.Span, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	span, ok := e.Definitions[expr]
	if !ok {
		return engine.Span{}, fmt.Errorf("%s: %w", expr, engine.ErrNotFound)
	}
	return span, nil
}
