package repl

import (
	"bufio"
	"io"
	"strings"
)

// LineReader yields command lines. It returns io.EOF when input ends.
type LineReader interface {
	ReadLine() (string, error)
}

type streamReader struct {
	r *bufio.Reader
}

// NewLineReader reads newline-terminated lines from r. A final line without
// a newline is still returned.
func NewLineReader(r io.Reader) LineReader {
	return &streamReader{r: bufio.NewReader(r)}
}

func (s *streamReader) ReadLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
