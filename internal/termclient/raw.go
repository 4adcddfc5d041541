package termclient

import (
	"io"

	"golang.org/x/term"
)

type fder interface {
	Fd() uintptr
}

// MakeRaw puts in into raw mode when it is a terminal. The returned restore
// function is always non-nil and safe to call more than once.
func MakeRaw(in io.Reader) (restore func() error, raw bool, err error) {
	noop := func() error { return nil }
	f, ok := in.(fder)
	if !ok {
		return noop, false, nil
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return noop, false, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return noop, false, err
	}
	var restored bool
	return func() error {
		if restored {
			return nil
		}
		restored = true
		return term.Restore(fd, state)
	}, true, nil
}

// crlfWriter rewrites bare LF as CRLF, which a raw terminal needs to
// return the cursor to column zero.
type crlfWriter struct {
	w      io.Writer
	lastCR bool
}

func newCRLFWriter(w io.Writer) *crlfWriter {
	return &crlfWriter{w: w}
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' && !c.lastCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		c.lastCR = b == '\r'
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
