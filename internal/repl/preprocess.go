package repl

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedDirective marks a "lines N" directive whose N is not a
// positive integer. The line is then left as typed.
var ErrMalformedDirective = errors.New("malformed directive")

var repeatPattern = regexp.MustCompile(`^(\d+)(\S.*)$`)

// Directive is a preprocessed command line.
type Directive struct {
	// Line is the command to dispatch.
	Line string
	// Repeat is how many times Line runs, at least 1.
	Repeat int
	// ContextLines is set by "lines N" and 0 otherwise.
	ContextLines int
}

// Preprocess applies, in order, the repeat prefix ("3n"), the "lines N"
// directive and the "?" shorthands. The error is ErrMalformedDirective when
// "lines" has a bad argument; the directive is still usable.
func Preprocess(line string) (Directive, error) {
	d := Directive{Line: strings.TrimSpace(line), Repeat: 1}

	if m := repeatPattern.FindStringSubmatch(d.Line); m != nil && isCommand(firstWord(m[2])) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			d.Repeat = n
			d.Line = m[2]
		}
	}

	var err error
	if rest, ok := strings.CutPrefix(d.Line, "lines "); ok {
		n, convErr := strconv.Atoi(strings.TrimSpace(rest))
		if convErr == nil && n > 0 {
			d.ContextLines = n
			d.Line = "list"
		} else {
			err = ErrMalformedDirective
		}
	}

	switch {
	case d.Line == "?":
		d.Line = "dir"
	case strings.HasSuffix(d.Line, "??"):
		d.Line = "source " + strings.TrimSpace(strings.TrimSuffix(d.Line, "??"))
	case strings.HasSuffix(d.Line, "?"):
		d.Line = "members " + strings.TrimSpace(strings.TrimSuffix(d.Line, "?"))
	}
	return d, err
}

func firstWord(line string) string {
	word, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	return word
}
