package termclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/acolita/sdb/internal/adapters/realnet"
	"github.com/acolita/sdb/internal/testing/fakes/fakenet"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// serve accepts one connection and hands it to fn.
func serve(t *testing.T, fn func(conn net.Conn)) (string, <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	return ln.Addr().String(), done
}

// ==================== Connect ====================

func TestConnectError(t *testing.T) {
	dialer := fakenet.NewDialer()
	dialer.SetError(errors.New("connection refused"))
	c := New(WithDialer(dialer), WithStdio(strings.NewReader(""), io.Discard))

	err := c.Connect(testContext(t), "127.0.0.1:6899")
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
	if ce.Addr != "127.0.0.1:6899" {
		t.Errorf("Addr = %q", ce.Addr)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q", err.Error())
	}

	calls := dialer.Calls()
	if len(calls) != 1 {
		t.Fatalf("dial calls = %d, want 1 (no retry)", len(calls))
	}
	if calls[0].Timeout != DefaultConnectTimeout {
		t.Errorf("timeout = %v, want %v", calls[0].Timeout, DefaultConnectTimeout)
	}
}

func TestConnectSessionRoundTrip(t *testing.T) {
	received := make(chan string, 4)
	addr, done := serve(t, func(conn net.Conn) {
		io.WriteString(conn, "> main.go(12)main.main()\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			received <- line
			if line == "c\n" {
				return
			}
			io.WriteString(conn, "ok\n")
		}
	})

	kr, kw := io.Pipe()
	var out bytes.Buffer
	c := New(WithDialer(realnet.NewDialer()), WithStdio(kr, &out))

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(testContext(t), addr) }()

	io.WriteString(kw, "next\r")
	if got := <-received; got != "next\n" {
		t.Errorf("server got %q, want %q", got, "next\n")
	}
	io.WriteString(kw, "c\r")
	if got := <-received; got != "c\n" {
		t.Errorf("server got %q, want %q", got, "c\n")
	}
	<-done
	kw.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Connect() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect() did not return after the server closed")
	}

	got := out.String()
	for _, want := range []string{"(sdb) ", "main.go(12)", "ok\n", "connection closed\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if entries := c.History().Entries(); len(entries) != 2 || entries[0] != "next" {
		t.Errorf("history = %v", entries)
	}
}

func TestConnectLocalEOF(t *testing.T) {
	addr, done := serve(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})

	c := New(WithStdio(strings.NewReader("\x04"), io.Discard))
	if err := c.Connect(testContext(t), addr); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server connection was not closed")
	}
}

func TestConnectCancelled(t *testing.T) {
	addr, _ := serve(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := New(WithStdio(strings.NewReader(""), io.Discard))
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Connect() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect() did not return after cancel")
	}
}

// ==================== Output ====================

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newCRLFWriter(&buf)
	w.Write([]byte("a\nb\r"))
	w.Write([]byte("\nc\n"))
	if got := buf.String(); got != "a\r\nb\r\nc\r\n" {
		t.Errorf("output = %q", got)
	}
}
