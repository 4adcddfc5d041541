// Package render turns command output into terminal text: optional syntax
// highlighting, pdb-style line gutters, and a marked current line.
package render

import (
	"fmt"
	"strings"
)

// Record is one output line. Line is the source line number for gutter
// output and 0 otherwise.
type Record struct {
	Text       string
	Line       int
	Current    bool
	Breakpoint bool
}

// Hint names the file the records were taken from. Lines 1..Line-1 of File
// precede the first record.
type Hint struct {
	File string
	Line int
}

// Block is a unit of rendered output.
type Block struct {
	Records []Record
	Hint    *Hint
	Gutter  bool
	// Force renders "<no result>" instead of nothing for an empty block.
	Force bool
	// Plain blocks are never highlighted.
	Plain bool
}

// Buffer captures the output of one command.
type Buffer struct {
	blocks []Block
}

// Printf appends formatted text, one record per line.
func (b *Buffer) Printf(format string, args ...any) {
	b.Text(fmt.Sprintf(format, args...), false)
}

// Line appends a single line of text.
func (b *Buffer) Line(s string) {
	b.Text(s, false)
}

// Text appends s, one record per line. With force, empty text renders as
// the "<no result>" placeholder.
func (b *Buffer) Text(s string, force bool) {
	b.blocks = append(b.blocks, Block{Records: split(s), Force: force})
}

// Source appends a listing with gutters.
func (b *Buffer) Source(hint *Hint, records []Record) {
	b.blocks = append(b.blocks, Block{Records: records, Hint: hint, Gutter: true})
}

// Plain appends text that is never highlighted.
func (b *Buffer) Plain(s string) {
	b.blocks = append(b.blocks, Block{Records: split(s), Plain: true})
}

// Append appends a prepared block.
func (b *Buffer) Append(block Block) {
	b.blocks = append(b.blocks, block)
}

// Error appends "*** <message>".
func (b *Buffer) Error(err error) {
	b.blocks = append(b.blocks, Block{Records: split("*** " + err.Error()), Plain: true})
}

// Blocks returns the captured blocks.
func (b *Buffer) Blocks() []Block {
	return b.blocks
}

// Len returns the number of captured blocks.
func (b *Buffer) Len() int {
	return len(b.blocks)
}

// Reset drops everything captured.
func (b *Buffer) Reset() {
	b.blocks = nil
}

func split(s string) []Record {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	records := make([]Record, len(lines))
	for i, line := range lines {
		records[i] = Record{Text: line}
	}
	return records
}
