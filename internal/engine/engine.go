// Package engine defines the debug engine the command loop drives.
//
// An Engine owns a paused-or-running debuggee. It is used from one goroutine
// at a time: the debugger driver waits for a stop, hands the engine to a
// command loop, and waits again once the loop resumes execution.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrTerminated is returned once the debuggee has exited.
var ErrTerminated = errors.New("debuggee terminated")

// ErrNotFound is returned when a name, frame or breakpoint does not exist.
var ErrNotFound = errors.New("not found")

// Location is a position in source.
type Location struct {
	File     string
	Line     int
	Function string
}

func (l Location) String() string {
	if l.Function == "" {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d %s()", l.File, l.Line, l.Function)
}

// Span is a range of source lines, inclusive.
type Span struct {
	File    string
	Line    int
	EndLine int
}

// Stop describes why the debuggee paused.
type Stop struct {
	Reason      string // "entry", "breakpoint", "step", "pause", ...
	Description string
	ThreadID    int
	Location    Location
}

// Frame is one stack activation record.
type Frame struct {
	Index    int
	ID       int
	Location Location
}

// StepKind selects a stepping primitive.
type StepKind int

const (
	StepOver StepKind = iota
	StepIn
	StepOut
)

func (k StepKind) String() string {
	switch k {
	case StepOver:
		return "next"
	case StepIn:
		return "step"
	case StepOut:
		return "return"
	default:
		return "unknown"
	}
}

// BreakpointSpec requests a breakpoint at File:Line or on Function.
type BreakpointSpec struct {
	File      string
	Line      int
	Function  string
	Condition string
}

// Breakpoint is an installed breakpoint.
type Breakpoint struct {
	ID        int
	File      string
	Line      int
	Function  string
	Condition string
	Verified  bool
	Message   string
}

func (b Breakpoint) String() string {
	where := fmt.Sprintf("%s:%d", b.File, b.Line)
	if b.Function != "" {
		where = b.Function
		if b.File != "" {
			where = fmt.Sprintf("%s at %s:%d", b.Function, b.File, b.Line)
		}
	}
	s := fmt.Sprintf("Breakpoint %d at %s", b.ID, where)
	if b.Condition != "" {
		s += "\n\tstop only if " + b.Condition
	}
	if !b.Verified && b.Message != "" {
		s += "\n\tpending: " + b.Message
	}
	return s
}

// Value is the result of an evaluation.
type Value struct {
	Expr        string
	Result      string
	Type        string
	HasChildren bool
}

// Variable is a named value, such as a struct field or a local.
type Variable struct {
	Name  string
	Value string
	Type  string
}

// Engine is the debugger the command loop talks to.
type Engine interface {
	// Wait blocks until the debuggee stops. It returns ErrTerminated once it exits.
	Wait(ctx context.Context) (Stop, error)

	// Location returns the position of the selected frame.
	Location() Location

	// Step executes one step and returns after the debuggee stops again.
	Step(ctx context.Context, kind StepKind) (Stop, error)

	// Continue resumes the debuggee without waiting.
	Continue(ctx context.Context) error

	// Quit stops debugging: every breakpoint is removed and the debuggee runs free.
	Quit(ctx context.Context) error

	SetBreakpoint(ctx context.Context, spec BreakpointSpec) (Breakpoint, error)
	ClearBreakpoint(ctx context.Context, id int) error
	Breakpoints() []Breakpoint

	// Stack returns the frames of the stopped thread, innermost first.
	Stack(ctx context.Context) ([]Frame, error)

	// SelectFrame makes frame index the context for evaluation and listing.
	SelectFrame(ctx context.Context, index int) (Frame, error)

	// Frame returns the selected frame index.
	Frame() int

	// Evaluate evaluates expr in the selected frame.
	Evaluate(ctx context.Context, expr string) (Value, error)
}

// SymbolTable is implemented by engines that can enumerate names.
type SymbolTable interface {
	// ScopeNames returns the names defined in the selected frame.
	ScopeNames(ctx context.Context) ([]string, error)

	// VisibleNames returns every name that can be referenced from the selected
	// frame: locals, package-level names and builtins.
	VisibleNames(ctx context.Context) ([]string, error)

	// Members returns the fields or elements of the value of expr.
	Members(ctx context.Context, expr string) ([]Variable, error)

	// Definition returns the source span that declares expr.
	Definition(ctx context.Context, expr string) (Span, error)
}
