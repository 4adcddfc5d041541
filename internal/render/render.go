package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/x/ansi"

	"github.com/acolita/sdb/internal/ports"
)

const (
	// DefaultStyle is the chroma style used when none is configured.
	DefaultStyle = "friendly"

	// NoResult is shown for a forced empty block.
	NoResult = "<no result>"

	currentOn  = "\x1b[93m"
	currentOff = "\x1b[0m"
)

// Options control highlighting. Both fields can change between renders.
type Options struct {
	Colorize bool
	Style    string
}

// Renderer renders blocks. It is safe for concurrent use.
type Renderer struct {
	fs ports.FileSystem

	mu    sync.RWMutex
	opts  Options
	cache map[string][]string
}

// New returns a renderer reading source files through fsys.
func New(opts Options, fsys ports.FileSystem) *Renderer {
	return &Renderer{
		fs:    fsys,
		opts:  opts,
		cache: make(map[string][]string),
	}
}

// SetOptions replaces the options for later renders.
func (r *Renderer) SetOptions(opts Options) {
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

// Options returns the current options.
func (r *Renderer) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Lines returns the lines of file, without newlines. Files are read once.
func (r *Renderer) Lines(file string) ([]string, error) {
	r.mu.RLock()
	lines, ok := r.cache[file]
	r.mu.RUnlock()
	if ok {
		return lines, nil
	}

	data, err := r.fs.ReadFile(file)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if text == "" {
		lines = []string{}
	} else {
		lines = strings.Split(text, "\n")
	}

	r.mu.Lock()
	r.cache[file] = lines
	r.mu.Unlock()
	return lines, nil
}

// RenderAll renders blocks in order and concatenates them.
func (r *Renderer) RenderAll(blocks []Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(r.Render(b))
	}
	return sb.String()
}

// Render renders one block. The result is empty or ends in a newline.
func (r *Renderer) Render(b Block) string {
	if len(b.Records) == 0 {
		if b.Force {
			return NoResult + "\n"
		}
		return ""
	}

	opts := r.Options()
	texts := make([]string, len(b.Records))
	for i, rec := range b.Records {
		texts[i] = rec.Text
	}
	if opts.Colorize && !b.Plain {
		texts = r.highlight(b, texts, opts.Style)
	}

	var sb strings.Builder
	for i, rec := range b.Records {
		text := texts[i]
		if rec.Current && opts.Colorize {
			text = currentOn + ansi.Strip(text) + currentOff
		}
		if b.Gutter {
			sb.WriteString(gutter(rec))
			sb.WriteByte('\t')
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	if strings.TrimSpace(ansi.Strip(sb.String())) == "" {
		if b.Force {
			return NoResult + "\n"
		}
		return ""
	}
	return sb.String()
}

// gutter formats "NNN B->" the way pdb does.
func gutter(rec Record) string {
	s := fmt.Sprintf("%3d", rec.Line)
	if len(s) < 4 {
		s += " "
	}
	if rec.Breakpoint {
		s += "B"
	} else {
		s += " "
	}
	if rec.Current {
		s += "->"
	}
	return s
}

// highlight colors texts. When the block has a hint, the preceding lines of
// the file are lexed too so multi-line constructs color correctly, then cut
// off again.
func (r *Renderer) highlight(b Block, texts []string, style string) []string {
	filename := ""
	var src strings.Builder
	if b.Hint != nil {
		filename = b.Hint.File
		if lines, err := r.Lines(b.Hint.File); err == nil {
			for i := 0; i < b.Hint.Line-1 && i < len(lines); i++ {
				src.WriteString(lines[i])
				src.WriteByte('\n')
			}
		}
	}
	for _, t := range texts {
		src.WriteString(t)
		src.WriteByte('\n')
	}

	out, err := highlightLines(filename, src.String(), style)
	if err != nil || len(out) < len(texts) {
		return texts
	}
	return out[len(out)-len(texts):]
}

func highlightLines(filename, src, style string) ([]string, error) {
	var lexer chroma.Lexer
	if filename != "" {
		lexer = lexers.Match(filename)
	}
	if lexer == nil {
		lexer = lexers.Get("go")
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	if style == "" {
		style = DefaultStyle
	}
	st := styles.Get(style)
	formatter := formatters.Get("terminal256")

	it, err := lexer.Tokenise(nil, src)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range chroma.SplitTokensIntoLines(it.Tokens()) {
		if n := len(line); n > 0 {
			line[n-1].Value = strings.TrimSuffix(line[n-1].Value, "\n")
		}
		var sb strings.Builder
		if err := formatter.Format(&sb, st, chroma.Literator(line...)); err != nil {
			return nil, err
		}
		out = append(out, sb.String())
	}
	return out, nil
}
