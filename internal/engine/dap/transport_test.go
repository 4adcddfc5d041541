package dap

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	godap "github.com/google/go-dap"
)

// bufferStream is an in-memory io.ReadWriteCloser.
type bufferStream struct {
	in  *strings.Reader
	out bytes.Buffer
}

func (b *bufferStream) Read(p []byte) (int, error)  { return b.in.Read(p) }
func (b *bufferStream) Write(p []byte) (int, error) { return b.out.Write(p) }
func (b *bufferStream) Close() error                { return nil }

func frame(body string) string {
	return "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
}

func TestStreamTransportSendFrames(t *testing.T) {
	stream := &bufferStream{in: strings.NewReader("")}
	tr := NewStreamTransport(stream)

	msg := &godap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}
	msg.Seq = 4
	if err := tr.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := stream.out.String()
	header, body, ok := strings.Cut(got, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header delimiter in %q", got)
	}
	if header != "Content-Length: "+strconv.Itoa(len(body)) {
		t.Errorf("header = %q, body length %d", header, len(body))
	}
	if !strings.Contains(body, `"command":"configurationDone"`) || !strings.Contains(body, `"seq":4`) {
		t.Errorf("body = %s", body)
	}
}

func TestStreamTransportReceiveDecodes(t *testing.T) {
	input := frame(`{"seq":1,"type":"event","event":"stopped","body":{"reason":"breakpoint","threadId":2}}`)
	tr := NewStreamTransport(&bufferStream{in: strings.NewReader(input)})

	msg, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	stopped, ok := msg.(*godap.StoppedEvent)
	if !ok {
		t.Fatalf("Receive = %T, want *StoppedEvent", msg)
	}
	if stopped.Body.Reason != "breakpoint" || stopped.Body.ThreadId != 2 {
		t.Errorf("body = %+v", stopped.Body)
	}
}

func TestStreamTransportSkipsUnknownMessages(t *testing.T) {
	input := frame(`{"seq":1,"type":"event","event":"dlvCustomEvent","body":{}}`) +
		frame(`{"seq":2,"type":"event","event":"initialized"}`)
	tr := NewStreamTransport(&bufferStream{in: strings.NewReader(input)})

	msg, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, ok := msg.(*godap.InitializedEvent); !ok {
		t.Errorf("Receive = %T, want *InitializedEvent", msg)
	}
}

func TestStreamTransportReceiveEOF(t *testing.T) {
	tr := NewStreamTransport(&bufferStream{in: strings.NewReader("")})
	if _, err := tr.Receive(); err != io.EOF {
		t.Errorf("Receive on empty input = %v, want io.EOF", err)
	}
}

func TestStreamTransportReceiveMalformedHeader(t *testing.T) {
	tr := NewStreamTransport(&bufferStream{in: strings.NewReader("garbage\r\n\r\n{}")})
	if _, err := tr.Receive(); err == nil {
		t.Error("expected error")
	}
}

func TestStreamTransportRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	left := NewStreamTransport(a)
	right := NewStreamTransport(b)
	defer left.Close()
	defer right.Close()

	go func() {
		_ = left.Send(&godap.InitializedEvent{Event: godap.Event{
			ProtocolMessage: godap.ProtocolMessage{Seq: 7, Type: "event"},
			Event:           "initialized",
		}})
	}()

	got, err := right.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, ok := got.(*godap.InitializedEvent); !ok || got.GetSeq() != 7 {
		t.Errorf("Receive = %T seq %d, want *InitializedEvent seq 7", got, got.GetSeq())
	}
}
