package termclient

import (
	"strings"
)

const (
	// DefaultPrompt is shown before the line buffer.
	DefaultPrompt = "(sdb) "

	// TabSentinel marks a completion request on the wire.
	TabSentinel = "<!TAB!>"

	clearLine = "\x1b[2K\r"
	highlight = "\x1b[93m"
	reset     = "\x1b[0m"
)

// Action is what the client must do after the editor handled a key.
type Action struct {
	// Echo is written to the terminal.
	Echo string
	// Send is written to the server when non-empty.
	Send string
	// Quit ends the session.
	Quit bool
}

// Editor is the line-editing state machine. It performs no I/O; the
// caller writes Echo to the terminal and Send to the socket.
type Editor struct {
	prompt  string
	buf     []rune
	history *History

	pending  bool
	fragment string
	reply    strings.Builder
}

// NewEditor returns an editor with the given prompt and history.
func NewEditor(prompt string, history *History) *Editor {
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Editor{prompt: prompt, history: history}
}

// Prompt returns the prompt followed by the current buffer.
func (e *Editor) Prompt() string {
	return e.prompt + string(e.buf)
}

// Buffer returns the current line.
func (e *Editor) Buffer() string {
	return string(e.buf)
}

// Pending reports whether a completion reply is outstanding.
func (e *Editor) Pending() bool {
	return e.pending
}

// History returns the editor's history.
func (e *Editor) History() *History {
	return e.history
}

func (e *Editor) redraw() string {
	return clearLine + e.Prompt()
}

// HandleKey applies one keystroke.
func (e *Editor) HandleKey(k Key) Action {
	switch k.Kind {
	case KeyRune:
		e.buf = append(e.buf, k.Rune)
		return Action{Echo: string(k.Rune)}

	case KeyBackspace:
		if len(e.buf) > 0 {
			e.buf = e.buf[:len(e.buf)-1]
		}
		return Action{Echo: e.redraw()}

	case KeyEnter:
		e.clearPending()
		line := string(e.buf)
		e.history.Add(line)
		e.buf = nil
		return Action{
			Echo: "\n",
			Send: strings.ReplaceAll(line, TabSentinel, "") + "\n",
		}

	case KeyTab:
		line := string(e.buf)
		fragment := line[strings.LastIndex(line, " ")+1:]
		e.clearPending()
		e.pending = true
		e.fragment = fragment
		return Action{Send: fragment + TabSentinel + "\n"}

	case KeyUp:
		e.buf = []rune(e.history.Up())
		return Action{Echo: e.redraw()}

	case KeyDown:
		e.buf = []rune(e.history.Down())
		return Action{Echo: e.redraw()}

	case KeyClearLine:
		e.buf = nil
		return Action{Echo: e.redraw()}

	case KeyEOF:
		if len(e.buf) == 0 {
			return Action{Quit: true}
		}
	}
	return Action{}
}

func (e *Editor) clearPending() {
	e.pending = false
	e.fragment = ""
	e.reply.Reset()
}

// HandleData applies data received from the server and returns what to
// write to the terminal.
func (e *Editor) HandleData(data string) string {
	if !e.pending {
		return e.output(data)
	}

	e.reply.WriteString(data)
	acc := e.reply.String()
	idx := strings.IndexByte(acc, '\n')
	if idx < 0 {
		return ""
	}
	reply, rest := acc[:idx], acc[idx+1:]
	fragment := e.fragment
	e.clearPending()

	out := e.complete(fragment, strings.Fields(reply))
	if rest != "" {
		out += e.output(rest)
	}
	return out
}

func (e *Editor) output(data string) string {
	if strings.HasSuffix(data, "\n") {
		return data + e.Prompt()
	}
	return data
}

func (e *Editor) complete(fragment string, matches []string) string {
	line := string(e.buf)
	if len(matches) == 0 || !strings.HasSuffix(line, fragment) {
		return ""
	}
	e.buf = []rune(line[:len(line)-len(fragment)] + matches[0])
	if len(matches) == 1 {
		return e.redraw()
	}

	var b strings.Builder
	b.WriteString(clearLine)
	b.WriteString(highlight + matches[0] + reset)
	for _, m := range matches[1:] {
		b.WriteString("\n")
		b.WriteString(m)
	}
	b.WriteString("\n")
	b.WriteString(e.Prompt())
	return b.String()
}
