package termclient

// DefaultHistorySize bounds the history when no size is configured.
const DefaultHistorySize = 500

// History is a bounded list of sent lines with a navigation cursor. The
// cursor ranges over [-1, len]; both ends show an empty line.
type History struct {
	entries []string
	pos     int
	limit   int
}

// NewHistory returns a history holding at most limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{limit: limit}
}

// Add appends a non-empty line, dropping the oldest entry when full, and
// resets the cursor past the end.
func (h *History) Add(line string) {
	if line != "" {
		h.entries = append(h.entries, line)
		if len(h.entries) > h.limit {
			h.entries = h.entries[len(h.entries)-h.limit:]
		}
	}
	h.Reset()
}

// Reset moves the cursor past the newest entry.
func (h *History) Reset() {
	h.pos = len(h.entries)
}

// Up moves to the previous entry.
func (h *History) Up() string {
	if h.pos > -1 {
		h.pos--
	}
	return h.current()
}

// Down moves to the next entry.
func (h *History) Down() string {
	if h.pos < len(h.entries) {
		h.pos++
	}
	return h.current()
}

func (h *History) current() string {
	if h.pos < 0 || h.pos >= len(h.entries) {
		return ""
	}
	return h.entries[h.pos]
}

// Entries returns the stored lines, oldest first.
func (h *History) Entries() []string {
	return append([]string(nil), h.entries...)
}

// Len returns the number of stored lines.
func (h *History) Len() int {
	return len(h.entries)
}
