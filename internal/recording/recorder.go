// Package recording writes debug session transcripts in asciicast v2 format.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acolita/sdb/internal/ports"
)

// Transcripts are replayed in a terminal of this size; sessions have no real one.
const (
	defaultWidth  = 100
	defaultHeight = 40
)

// Recorder records session I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// NewRecorder creates <dir>/<sessionID>_<timestamp>.cast and writes the header.
func NewRecorder(dir, sessionID, title string, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.cast", sessionID, clock.Now().Format("20060102_150405"))
	file, err := fs.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:      file,
		startTime: clock.Now(),
		clock:     clock,
	}

	header := Header{
		Version:   2,
		Width:     defaultWidth,
		Height:    defaultHeight,
		Timestamp: r.startTime.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color"},
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// RecordOutput records data sent to the client.
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

// RecordInput records data received from the client.
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the recording file. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	if r == nil || r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Reader returns a reader that records everything read from src as input.
// Recording errors never fail the read.
func (r *Recorder) Reader(src io.Reader) io.Reader {
	return &teeReader{src: src, rec: r}
}

// Writer returns a writer that records everything written to dst as output.
func (r *Recorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{dst: dst, rec: r}
}

type teeReader struct {
	src io.Reader
	rec *Recorder
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		_ = t.rec.RecordInput(string(p[:n]))
	}
	return n, err
}

type teeWriter struct {
	dst io.Writer
	rec *Recorder
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.dst.Write(p)
	if n > 0 {
		_ = t.rec.RecordOutput(string(p[:n]))
	}
	return n, err
}
