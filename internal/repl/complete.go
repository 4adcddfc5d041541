package repl

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/acolita/sdb/internal/engine"
)

// Sentinel ends a line that asks for completions instead of running a command.
const Sentinel = "<!TAB!>"

const completeTimeout = 5 * time.Second

// IsCompletion reports whether line is a completion request: it ends with
// the sentinel, ignoring trailing whitespace.
func IsCompletion(line string) bool {
	return strings.HasSuffix(strings.TrimSpace(line), Sentinel)
}

// Fragment returns the text before the first sentinel.
func Fragment(line string) string {
	before, _, _ := strings.Cut(line, Sentinel)
	return strings.TrimSpace(before)
}

// Matches returns the names starting with fragment, sorted, without
// duplicates or reserved names.
func Matches(names []string, fragment string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if engine.IsReserved(n) || seen[n] || !strings.HasPrefix(n, fragment) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Reply formats matches for the wire: space separated, newline terminated.
func Reply(matches []string) string {
	return strings.Join(matches, " ") + "\n"
}

// Complete returns the visible names starting with fragment.
func (l *Loop) Complete(ctx context.Context, fragment string) []string {
	if l.syms == nil {
		return nil
	}
	names, err := l.syms.VisibleNames(ctx)
	if err != nil {
		l.logger.Debug("completion failed", "fragment", fragment, "error", err)
		return nil
	}
	return Matches(names, fragment)
}

// Do implements readline.AutoCompleter: it completes the word before pos.
func (l *Loop) Do(line []rune, pos int) ([][]rune, int) {
	if pos > len(line) {
		pos = len(line)
	}
	head := string(line[:pos])
	fragment := head[strings.LastIndex(head, " ")+1:]

	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()

	matches := l.Complete(ctx, fragment)
	out := make([][]rune, len(matches))
	for i, m := range matches {
		out[i] = []rune(m[len(fragment):])
	}
	return out, len([]rune(fragment))
}
