package termclient

import (
	"strings"
	"testing"
)

type editorHarness struct {
	e    *Editor
	out  strings.Builder
	sent strings.Builder
	dec  Decoder
}

func newEditorHarness() *editorHarness {
	return &editorHarness{e: NewEditor(DefaultPrompt, NewHistory(DefaultHistorySize))}
}

func (h *editorHarness) keys(s string) {
	for _, k := range h.dec.Feed([]byte(s)) {
		act := h.e.HandleKey(k)
		h.out.WriteString(act.Echo)
		h.sent.WriteString(act.Send)
	}
}

func (h *editorHarness) recv(s string) {
	h.out.WriteString(h.e.HandleData(s))
}

// ==================== Line editing ====================

func TestEditorSimpleCommand(t *testing.T) {
	h := newEditorHarness()
	h.keys("list\r")

	if got := h.sent.String(); got != "list\n" {
		t.Errorf("sent = %q, want %q", got, "list\n")
	}
	h.recv("<list output>")
	if got := h.out.String(); got != "list\n<list output>" {
		t.Errorf("stdout = %q, want %q", got, "list\n<list output>")
	}
	if got := h.e.History().Entries(); len(got) != 1 || got[0] != "list" {
		t.Errorf("history = %v, want [list]", got)
	}
}

func TestEditorPromptAfterNewline(t *testing.T) {
	h := newEditorHarness()
	h.keys("ne")
	h.recv("stopped\n")
	if got := h.out.String(); got != "nestopped\n(sdb) ne" {
		t.Errorf("stdout = %q", got)
	}
}

func TestEditorBackspace(t *testing.T) {
	h := newEditorHarness()
	h.keys("list\x7f\x7f\x7f\r")
	if got := h.sent.String(); got != "l\n" {
		t.Errorf("sent = %q, want %q", got, "l\n")
	}
}

func TestEditorIgnoresEditingKeys(t *testing.T) {
	h := newEditorHarness()
	h.keys("ab\x1b[3~\x1b[H\x1b[1;5C")
	if got := h.e.Buffer(); got != "ab" {
		t.Errorf("buffer = %q, want %q", got, "ab")
	}
}

func TestEditorBackspaceOnEmptyBuffer(t *testing.T) {
	h := newEditorHarness()
	h.keys("\x7f\x08")
	if got := h.e.Buffer(); got != "" {
		t.Errorf("buffer = %q, want empty", got)
	}
	if got := h.out.String(); got != clearLine+"(sdb) "+clearLine+"(sdb) " {
		t.Errorf("stdout = %q", got)
	}
}

func TestEditorClearLine(t *testing.T) {
	h := newEditorHarness()
	h.keys("next\r")
	h.keys("abc\x15")
	if got := h.e.Buffer(); got != "" {
		t.Errorf("after Ctrl-U buffer = %q, want empty", got)
	}
	h.keys("xyz\x03")
	if got := h.e.Buffer(); got != "" {
		t.Errorf("after Ctrl-C buffer = %q, want empty", got)
	}
	if n := h.e.History().Len(); n != 1 {
		t.Errorf("history len = %d, want 1", n)
	}
}

func TestEditorEOF(t *testing.T) {
	h := newEditorHarness()
	if act := h.e.HandleKey(Key{Kind: KeyEOF}); !act.Quit {
		t.Error("EOF on empty line should quit")
	}
	h.keys("p")
	if act := h.e.HandleKey(Key{Kind: KeyEOF}); act.Quit {
		t.Error("EOF with pending input should not quit")
	}
}

func TestEditorEnterStripsSentinel(t *testing.T) {
	h := newEditorHarness()
	h.keys("p x" + TabSentinel + "\r")
	if got := h.sent.String(); got != "p x\n" {
		t.Errorf("sent = %q, want %q", got, "p x\n")
	}
}

// ==================== History ====================

func TestEditorHistory(t *testing.T) {
	h := newEditorHarness()
	for _, w := range []string{"list", "next", "continue"} {
		h.keys(w + "\r")
	}
	if got := strings.Join(h.e.History().Entries(), ","); got != "list,next,continue" {
		t.Fatalf("history = %q", got)
	}
	if h.e.Buffer() != "" {
		t.Fatalf("buffer = %q, want empty", h.e.Buffer())
	}

	steps := []struct {
		keys string
		want string
	}{
		{"\x1b[A", "continue"},
		{"\x1b[A", "next"},
		{"\x1b[A", "list"},
		{"\x1b[A\x1b[A\x1b[A\x1b[A", ""},
		{"\x1b[B", "list"},
		{"\x1b[B", "next"},
		{"\x1b[B", "continue"},
		{"\x1b[B", ""},
		{"\x1b[B\x1b[B\x1b[B\x1b[B", ""},
		{"\x1b[A", "continue"},
	}
	for i, s := range steps {
		h.keys(s.keys)
		if got := h.e.Buffer(); got != s.want {
			t.Errorf("step %d: buffer = %q, want %q", i, got, s.want)
		}
	}
}

func TestEditorHistoryRecallVerbatim(t *testing.T) {
	h := newEditorHarness()
	h.keys("p  a + b \r\x1b[A")
	if got := h.e.Buffer(); got != "p  a + b " {
		t.Errorf("buffer = %q, want %q", got, "p  a + b ")
	}
}

func TestHistoryBounded(t *testing.T) {
	hist := NewHistory(3)
	for _, l := range []string{"a", "b", "", "c", "d"} {
		hist.Add(l)
	}
	if got := strings.Join(hist.Entries(), ","); got != "b,c,d" {
		t.Errorf("entries = %q, want %q", got, "b,c,d")
	}
	if got := hist.Up(); got != "d" {
		t.Errorf("Up() = %q, want %q", got, "d")
	}
}

func TestHistoryDefaultSize(t *testing.T) {
	hist := NewHistory(0)
	for i := 0; i < DefaultHistorySize+10; i++ {
		hist.Add("x")
	}
	if hist.Len() != DefaultHistorySize {
		t.Errorf("Len() = %d, want %d", hist.Len(), DefaultHistorySize)
	}
}

// ==================== Completion ====================

func TestEditorSingleTabComplete(t *testing.T) {
	h := newEditorHarness()
	h.keys("li\t")
	if got := h.sent.String(); got != "li<!TAB!>\n" {
		t.Errorf("sent = %q, want %q", got, "li<!TAB!>\n")
	}
	if !h.e.Pending() {
		t.Fatal("completion should be pending")
	}
	h.recv("list\n")
	if got := h.e.Buffer(); got != "list" {
		t.Errorf("buffer = %q, want %q", got, "list")
	}
	if got := h.out.String(); got != "li\x1b[2K\r(sdb) list" {
		t.Errorf("stdout = %q", got)
	}
	if h.e.Pending() {
		t.Error("completion still pending")
	}
}

func TestEditorCompletesLastWord(t *testing.T) {
	h := newEditorHarness()
	h.keys("p sel\t")
	if got := h.sent.String(); got != "sel<!TAB!>\n" {
		t.Errorf("sent = %q", got)
	}
	h.recv("self\n")
	if got := h.e.Buffer(); got != "p self" {
		t.Errorf("buffer = %q, want %q", got, "p self")
	}
}

func TestEditorMultiTabComplete(t *testing.T) {
	h := newEditorHarness()
	h.keys("li\t")
	h.recv("list lit live\n")
	if got := h.e.Buffer(); got != "list" {
		t.Errorf("buffer = %q, want %q", got, "list")
	}
	want := "li" + clearLine + "\x1b[93mlist\x1b[0m\nlit\nlive\n(sdb) list"
	if got := h.out.String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestEditorCompletionAccumulates(t *testing.T) {
	h := newEditorHarness()
	h.keys("li\t")
	h.recv("lis")
	if h.e.Buffer() != "li" {
		t.Errorf("buffer changed before reply completed: %q", h.e.Buffer())
	}
	h.recv("t\n")
	if got := h.e.Buffer(); got != "list" {
		t.Errorf("buffer = %q, want %q", got, "list")
	}
}

func TestEditorMismatchedCompletionIgnored(t *testing.T) {
	h := newEditorHarness()
	h.keys("li\t\x7f\x7fn")
	h.recv("list\n")
	if got := h.e.Buffer(); got != "n" {
		t.Errorf("buffer = %q, want %q", got, "n")
	}
}

func TestEditorEmptyCompletion(t *testing.T) {
	h := newEditorHarness()
	h.keys("zz\t")
	h.recv("\n")
	if got := h.e.Buffer(); got != "zz" {
		t.Errorf("buffer = %q, want %q", got, "zz")
	}
}

func TestEditorEnterCancelsCompletion(t *testing.T) {
	h := newEditorHarness()
	h.keys("li\t\r")
	if h.e.Pending() {
		t.Error("Enter should clear the pending completion")
	}
	h.recv("list\n")
	if got := h.out.String(); !strings.HasSuffix(got, "list\n(sdb) ") {
		t.Errorf("late reply should print as output, got %q", got)
	}
}
