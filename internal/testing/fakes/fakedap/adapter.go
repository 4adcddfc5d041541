// Package fakedap provides a scripted Debug Adapter Protocol server for tests.
package fakedap

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	godap "github.com/google/go-dap"
)

// Emit is an event sent after a response.
type Emit struct {
	Event string
	Body  any
}

// Reply is a scripted response. A non-empty Err fails the request the way
// Delve does, with the text in body.error.format.
type Reply struct {
	Body   any
	Err    string
	Events []Emit
}

// Handler answers one request.
type Handler func(args json.RawMessage) Reply

// Call records a received request.
type Call struct {
	Command   string
	Arguments json.RawMessage
}

// request keeps the arguments raw so handlers decode what they need.
type request struct {
	godap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type response struct {
	godap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

type event struct {
	godap.Event
	Body json.RawMessage `json:"body,omitempty"`
}

// Adapter answers DAP requests with scripted handlers. Requests without a
// handler succeed with an empty body.
type Adapter struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	seq      int
}

// New serves DAP on conn once Serve is called.
func New(conn io.ReadWriteCloser) *Adapter {
	return &Adapter{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		handlers: make(map[string]Handler),
	}
}

// Handle sets the handler for command.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[command] = h
}

// Serve answers requests until the connection closes.
func (a *Adapter) Serve() error {
	for {
		content, err := godap.ReadBaseMessage(a.reader)
		if err != nil {
			return err
		}

		var req request
		if err := json.Unmarshal(content, &req); err != nil || req.Type != "request" {
			continue
		}

		a.mu.Lock()
		a.calls = append(a.calls, Call{Command: req.Command, Arguments: req.Arguments})
		h := a.handlers[req.Command]
		a.mu.Unlock()

		var reply Reply
		if h != nil {
			reply = h(req.Arguments)
		}
		if err := a.respond(req, reply); err != nil {
			return err
		}
		for _, e := range reply.Events {
			if err := a.Event(e.Event, e.Body); err != nil {
				return err
			}
		}
	}
}

func (a *Adapter) respond(req request, reply Reply) error {
	header := godap.Response{
		ProtocolMessage: godap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         reply.Err == "",
		Command:         req.Command,
	}
	if reply.Err != "" {
		header.Message = "Failed"
		return a.write(&godap.ErrorResponse{
			Response: header,
			Body:     godap.ErrorResponseBody{Error: &godap.ErrorMessage{Format: reply.Err}},
		})
	}

	resp := response{Response: header}
	if reply.Body != nil {
		body, err := json.Marshal(reply.Body)
		if err != nil {
			return err
		}
		resp.Body = body
	}
	return a.write(resp)
}

// Event sends an event.
func (a *Adapter) Event(name string, body any) error {
	evt := event{Event: godap.Event{
		ProtocolMessage: godap.ProtocolMessage{Seq: a.nextSeq(), Type: "event"},
		Event:           name,
	}}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		evt.Body = data
	}
	return a.write(evt)
}

func (a *Adapter) write(msg any) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return godap.WriteBaseMessage(a.conn, content)
}

func (a *Adapter) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

// Calls returns the requests received so far.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Commands returns the commands received so far, in order.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	for i, c := range a.calls {
		out[i] = c.Command
	}
	return out
}

// Last returns the most recent request for command.
func (a *Adapter) Last(command string) (Call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.calls) - 1; i >= 0; i-- {
		if a.calls[i].Command == command {
			return a.calls[i], true
		}
	}
	return Call{}, false
}

// Close closes the connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
