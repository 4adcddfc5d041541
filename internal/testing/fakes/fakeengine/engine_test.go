package fakeengine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/acolita/sdb/internal/engine"
)

func TestStopQueue(t *testing.T) {
	e := New()
	ctx := context.Background()
	loc := engine.Location{File: "/src/main.go", Line: 3}
	e.PushStop(engine.Stop{Reason: "breakpoint", Location: loc})
	e.PushStop(engine.Stop{Reason: "step", Location: engine.Location{File: "/src/main.go", Line: 4}})

	stop, err := e.Wait(ctx)
	if err != nil || stop.Reason != "breakpoint" {
		t.Fatalf("Wait = %+v, %v", stop, err)
	}
	if e.Location() != loc {
		t.Errorf("Location = %+v, want %+v", e.Location(), loc)
	}

	stop, err = e.Step(ctx, engine.StepOver)
	if err != nil || stop.Location.Line != 4 {
		t.Fatalf("Step = %+v, %v", stop, err)
	}

	if _, err := e.Wait(ctx); !errors.Is(err, engine.ErrTerminated) {
		t.Errorf("Wait on empty queue = %v, want ErrTerminated", err)
	}
	if got := strings.Join(e.Calls(), ","); got != "wait,next,wait" {
		t.Errorf("Calls = %q", got)
	}
}

func TestBreakpoints(t *testing.T) {
	e := New()
	ctx := context.Background()

	bp, err := e.SetBreakpoint(ctx, engine.BreakpointSpec{File: "/a.go", Line: 2})
	if err != nil || bp.ID != 1 || !bp.Verified {
		t.Fatalf("SetBreakpoint = %+v, %v", bp, err)
	}
	if err := e.ClearBreakpoint(ctx, 9); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("ClearBreakpoint(9) = %v, want ErrNotFound", err)
	}
	if err := e.Quit(ctx); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	if len(e.Breakpoints()) != 0 {
		t.Errorf("Breakpoints after Quit = %+v", e.Breakpoints())
	}
}

func TestEvaluate(t *testing.T) {
	e := New()
	e.Values["x"] = engine.Value{Result: "1", Type: "int"}

	v, err := e.Evaluate(context.Background(), "x")
	if err != nil || v.Result != "1" || v.Expr != "x" {
		t.Errorf("Evaluate(x) = %+v, %v", v, err)
	}
	if _, err := e.Evaluate(context.Background(), "y"); err == nil {
		t.Error("Evaluate(y) should fail")
	}
}
