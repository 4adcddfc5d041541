package termclient

import "unicode/utf8"

// KeyKind classifies a decoded key.
type KeyKind int

const (
	KeyRune KeyKind = iota
	KeyEnter
	KeyBackspace
	KeyTab
	KeyUp
	KeyDown
	KeyClearLine // Ctrl-U, Ctrl-C
	KeyEOF       // Ctrl-D
)

// Key is one keystroke.
type Key struct {
	Kind KeyKind
	Rune rune
}

// Decoder turns raw terminal bytes into keys. Escape sequences and UTF-8
// runes split across reads are held until complete.
type Decoder struct {
	pending []byte
}

// Feed decodes p and returns the complete keys it finished.
func (d *Decoder) Feed(p []byte) []Key {
	buf := append(d.pending, p...)
	d.pending = nil

	var keys []Key
	for len(buf) > 0 {
		b := buf[0]
		switch {
		case b == 0x1b:
			if len(buf) < 2 {
				d.pending = append([]byte(nil), buf...)
				return keys
			}
			switch buf[1] {
			case '[':
				n, final, ok := csiLength(buf)
				if !ok {
					d.pending = append([]byte(nil), buf...)
					return keys
				}
				if k, arrow := arrowKey(final); arrow {
					keys = append(keys, k)
				}
				buf = buf[n:]
			case 'O':
				// SS3, sent for arrows in application cursor mode.
				if len(buf) < 3 {
					d.pending = append([]byte(nil), buf...)
					return keys
				}
				if k, arrow := arrowKey(buf[2]); arrow {
					keys = append(keys, k)
				}
				buf = buf[3:]
			default:
				// Lone ESC followed by something else: drop the ESC.
				buf = buf[1:]
			}
		case b == '\r' || b == '\n':
			keys = append(keys, Key{Kind: KeyEnter})
			// CR LF from a cooked terminal is one Enter.
			if b == '\r' && len(buf) > 1 && buf[1] == '\n' {
				buf = buf[1:]
			}
			buf = buf[1:]
		case b == 0x7f || b == 0x08:
			keys = append(keys, Key{Kind: KeyBackspace})
			buf = buf[1:]
		case b == '\t':
			keys = append(keys, Key{Kind: KeyTab})
			buf = buf[1:]
		case b == 0x15 || b == 0x03:
			keys = append(keys, Key{Kind: KeyClearLine})
			buf = buf[1:]
		case b == 0x04:
			keys = append(keys, Key{Kind: KeyEOF})
			buf = buf[1:]
		case b < 0x20:
			buf = buf[1:]
		default:
			if !utf8.FullRune(buf) {
				d.pending = append([]byte(nil), buf...)
				return keys
			}
			r, size := utf8.DecodeRune(buf)
			keys = append(keys, Key{Kind: KeyRune, Rune: r})
			buf = buf[size:]
		}
	}
	return keys
}

// csiLength measures the control sequence at the start of buf, which begins
// with ESC [. It returns the sequence length and its final byte, or ok=false
// when buf ends before the final byte. A byte that cannot appear in a control
// sequence ends it early with final 0.
func csiLength(buf []byte) (n int, final byte, ok bool) {
	for i := 2; i < len(buf); i++ {
		c := buf[i]
		switch {
		case c >= 0x20 && c <= 0x3f:
			// parameter and intermediate bytes
		case c >= 0x40 && c <= 0x7e:
			return i + 1, c, true
		default:
			return i, 0, true
		}
	}
	return 0, 0, false
}

func arrowKey(final byte) (Key, bool) {
	switch final {
	case 'A':
		return Key{Kind: KeyUp}, true
	case 'B':
		return Key{Kind: KeyDown}, true
	}
	return Key{}, false
}
