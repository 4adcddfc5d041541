package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	godap "github.com/google/go-dap"
)

// ErrClientClosed is returned for requests issued after the connection ended.
var ErrClientClosed = errors.New("dap: client closed")

// ResponseError is a failed response from the adapter.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Client speaks DAP to one adapter over a Transport.
type Client struct {
	transport Transport
	seq       int64

	pendingMu sync.Mutex
	pending   map[int]*pendingRequest

	handlerMu sync.RWMutex
	handlers  eventHandlers

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

type pendingRequest struct {
	response godap.ResponseMessage
	err      error
	done     chan struct{}
	once     sync.Once
}

func (p *pendingRequest) close() {
	p.once.Do(func() { close(p.done) })
}

// Handlers run on the receive goroutine and must not block on requests.
type eventHandlers struct {
	onInitialized func()
	onStopped     func(godap.StoppedEventBody)
	onExited      func(godap.ExitedEventBody)
	onTerminated  func()
	onOutput      func(godap.OutputEventBody)
}

// NewClient starts reading from t.
func NewClient(t Transport) *Client {
	c := &Client{
		transport: t,
		pending:   make(map[int]*pendingRequest),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close closes the transport and fails outstanding requests.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.shutdown(ErrClientClosed)
	return err
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.pendingMu.Lock()
		for seq, req := range c.pending {
			req.err = cause
			req.close()
			delete(c.pending, seq)
		}
		c.pendingMu.Unlock()

		c.handlerMu.RLock()
		onTerminated := c.handlers.onTerminated
		c.handlerMu.RUnlock()
		close(c.done)
		if onTerminated != nil {
			onTerminated()
		}
	})
}

func (c *Client) receiveLoop() {
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClientClosed, err))
			return
		}
		switch m := msg.(type) {
		case godap.ResponseMessage:
			c.handleResponse(m)
		case godap.EventMessage:
			c.handleEvent(m)
		}
	}
}

func (c *Client) handleResponse(resp godap.ResponseMessage) {
	seq := resp.GetResponse().RequestSeq

	c.pendingMu.Lock()
	req, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()

	if ok {
		req.response = resp
		req.close()
	}
}

func (c *Client) handleEvent(evt godap.EventMessage) {
	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	switch e := evt.(type) {
	case *godap.InitializedEvent:
		if handlers.onInitialized != nil {
			handlers.onInitialized()
		}
	case *godap.StoppedEvent:
		if handlers.onStopped != nil {
			handlers.onStopped(e.Body)
		}
	case *godap.ExitedEvent:
		if handlers.onExited != nil {
			handlers.onExited(e.Body)
		}
	case *godap.TerminatedEvent:
		if handlers.onTerminated != nil {
			handlers.onTerminated()
		}
	case *godap.OutputEvent:
		if handlers.onOutput != nil {
			handlers.onOutput(e.Body)
		}
	}
}

// OnInitialized sets the handler for the initialized event.
func (c *Client) OnInitialized(handler func()) {
	c.handlerMu.Lock()
	c.handlers.onInitialized = handler
	c.handlerMu.Unlock()
}

// OnStopped sets the handler for the stopped event.
func (c *Client) OnStopped(handler func(godap.StoppedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onStopped = handler
	c.handlerMu.Unlock()
}

// OnExited sets the handler for the exited event.
func (c *Client) OnExited(handler func(godap.ExitedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onExited = handler
	c.handlerMu.Unlock()
}

// OnTerminated sets the handler for the terminated event. It also runs once
// when the connection drops.
func (c *Client) OnTerminated(handler func()) {
	c.handlerMu.Lock()
	c.handlers.onTerminated = handler
	c.handlerMu.Unlock()
}

// OnOutput sets the handler for the output event.
func (c *Client) OnOutput(handler func(godap.OutputEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onOutput = handler
	c.handlerMu.Unlock()
}

func newRequest(command string) godap.Request {
	return godap.Request{
		ProtocolMessage: godap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// call numbers req, sends it and waits for the matching response.
func (c *Client) call(ctx context.Context, req godap.RequestMessage) (godap.ResponseMessage, error) {
	select {
	case <-c.done:
		return nil, c.Err()
	default:
	}

	r := req.GetRequest()
	r.Seq = int(atomic.AddInt64(&c.seq, 1))
	r.Type = "request"

	pending := &pendingRequest{done: make(chan struct{})}
	c.pendingMu.Lock()
	c.pending[r.Seq] = pending
	c.pendingMu.Unlock()

	if err := c.transport.Send(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, r.Seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", r.Command, err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, r.Seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-pending.done:
	}

	if pending.err != nil {
		return nil, pending.err
	}
	resp := pending.response
	if !resp.GetResponse().Success {
		return nil, &ResponseError{Command: r.Command, Message: failureMessage(resp)}
	}
	return resp, nil
}

// roundTrip is call with the response asserted to the type the command answers with.
func roundTrip[T godap.ResponseMessage](ctx context.Context, c *Client, req godap.RequestMessage) (T, error) {
	var zero T
	resp, err := c.call(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected response %T", req.GetRequest().Command, resp)
	}
	return typed, nil
}

// Delve puts the useful text in body.error.format and a generic one in message.
func failureMessage(resp godap.ResponseMessage) string {
	if er, ok := resp.(*godap.ErrorResponse); ok && er.Body.Error != nil && er.Body.Error.Format != "" {
		return er.Body.Error.Format
	}
	if msg := resp.GetResponse().Message; msg != "" {
		return msg
	}
	return "request failed"
}

// Initialize performs the initialize handshake.
func (c *Client) Initialize(ctx context.Context, args godap.InitializeRequestArguments) (godap.Capabilities, error) {
	resp, err := roundTrip[*godap.InitializeResponse](ctx, c, &godap.InitializeRequest{
		Request:   newRequest("initialize"),
		Arguments: args,
	})
	if err != nil {
		return godap.Capabilities{}, err
	}
	return resp.Body, nil
}

// Launch asks the adapter to build and start the debuggee.
func (c *Client) Launch(ctx context.Context, args LaunchArguments) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal launch arguments: %w", err)
	}
	_, err = c.call(ctx, &godap.LaunchRequest{Request: newRequest("launch"), Arguments: raw})
	return err
}

// ConfigurationDone ends the configuration phase.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.call(ctx, &godap.ConfigurationDoneRequest{Request: newRequest("configurationDone")})
	return err
}

// SetBreakpoints replaces the line breakpoints of one file.
func (c *Client) SetBreakpoints(ctx context.Context, args godap.SetBreakpointsArguments) ([]godap.Breakpoint, error) {
	resp, err := roundTrip[*godap.SetBreakpointsResponse](ctx, c, &godap.SetBreakpointsRequest{
		Request:   newRequest("setBreakpoints"),
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// SetFunctionBreakpoints replaces all function breakpoints.
func (c *Client) SetFunctionBreakpoints(ctx context.Context, args godap.SetFunctionBreakpointsArguments) ([]godap.Breakpoint, error) {
	resp, err := roundTrip[*godap.SetFunctionBreakpointsResponse](ctx, c, &godap.SetFunctionBreakpointsRequest{
		Request:   newRequest("setFunctionBreakpoints"),
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// Continue resumes the debuggee.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	_, err := c.call(ctx, &godap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: godap.ContinueArguments{ThreadId: threadID},
	})
	return err
}

// Next steps over.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.call(ctx, &godap.NextRequest{
		Request:   newRequest("next"),
		Arguments: godap.NextArguments{ThreadId: threadID},
	})
	return err
}

// StepIn steps into a call.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.call(ctx, &godap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: godap.StepInArguments{ThreadId: threadID},
	})
	return err
}

// StepOut runs until the current function returns.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.call(ctx, &godap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: godap.StepOutArguments{ThreadId: threadID},
	})
	return err
}

// Threads lists the debuggee's threads.
func (c *Client) Threads(ctx context.Context) ([]godap.Thread, error) {
	resp, err := roundTrip[*godap.ThreadsResponse](ctx, c, &godap.ThreadsRequest{Request: newRequest("threads")})
	if err != nil {
		return nil, err
	}
	return resp.Body.Threads, nil
}

// StackTrace returns frames of a thread, innermost first.
func (c *Client) StackTrace(ctx context.Context, args godap.StackTraceArguments) ([]godap.StackFrame, error) {
	resp, err := roundTrip[*godap.StackTraceResponse](ctx, c, &godap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

// Scopes returns the scopes of a frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]godap.Scope, error) {
	resp, err := roundTrip[*godap.ScopesResponse](ctx, c, &godap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: godap.ScopesArguments{FrameId: frameID},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

// Variables expands a variables reference.
func (c *Client) Variables(ctx context.Context, ref int) ([]godap.Variable, error) {
	resp, err := roundTrip[*godap.VariablesResponse](ctx, c, &godap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: godap.VariablesArguments{VariablesReference: ref},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates an expression.
func (c *Client) Evaluate(ctx context.Context, args godap.EvaluateArguments) (godap.EvaluateResponseBody, error) {
	resp, err := roundTrip[*godap.EvaluateResponse](ctx, c, &godap.EvaluateRequest{
		Request:   newRequest("evaluate"),
		Arguments: args,
	})
	if err != nil {
		return godap.EvaluateResponseBody{}, err
	}
	return resp.Body, nil
}

// Disconnect ends the session.
func (c *Client) Disconnect(ctx context.Context, terminate bool) error {
	_, err := c.call(ctx, &godap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &godap.DisconnectArguments{TerminateDebuggee: terminate},
	})
	return err
}
