package recording

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/sdb/internal/adapters/realclock"
	"github.com/acolita/sdb/internal/adapters/realfs"
	"github.com/acolita/sdb/internal/testing/fakes/fakeclock"
	"github.com/acolita/sdb/internal/testing/fakes/fakefs"
)

var epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// readEvents parses the event lines (everything after the header) of a cast file.
func readEvents(t *testing.T, data []byte) (Header, []Event) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 {
		t.Fatal("recording is empty")
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}

	var events []Event
	for _, line := range lines[1:] {
		var raw []interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			t.Fatalf("unmarshal event %q: %v", line, err)
		}
		if len(raw) != 3 {
			t.Fatalf("event %q has %d fields, want 3", line, len(raw))
		}
		events = append(events, Event{
			Time: raw[0].(float64),
			Type: raw[1].(string),
			Data: raw[2].(string),
		})
	}
	return header, events
}

// ---------- Event tests ----------

func TestEventMarshalJSON(t *testing.T) {
	got, err := json.Marshal(Event{Time: 1.5, Type: "o", Data: "  1  ->\tx := 1\n"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[1.5,"o","  1  ->\tx := 1\n"]`
	if string(got) != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

// ---------- NewRecorder tests ----------

func TestNewRecorder(t *testing.T) {
	fs := fakefs.New()
	clock := fakeclock.New(epoch)

	r, err := NewRecorder("/var/sdb/casts", "3f2a", "Socket Debugger:6899", fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	defer r.Close()

	want := "/var/sdb/casts/3f2a_20240301_093000.cast"
	if r.Path() != want {
		t.Errorf("Path() = %q, want %q", r.Path(), want)
	}

	data, _ := fs.ReadFile(want)
	header, events := readEvents(t, data)
	if header.Version != 2 {
		t.Errorf("header.Version = %d, want 2", header.Version)
	}
	if header.Title != "Socket Debugger:6899" {
		t.Errorf("header.Title = %q", header.Title)
	}
	if header.Timestamp != epoch.Unix() {
		t.Errorf("header.Timestamp = %d, want %d", header.Timestamp, epoch.Unix())
	}
	if header.Width != defaultWidth || header.Height != defaultHeight {
		t.Errorf("header size = %dx%d", header.Width, header.Height)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestNewRecorder_RefusesToOverwrite(t *testing.T) {
	fs := fakefs.New()
	clock := fakeclock.New(epoch)

	r, err := NewRecorder("/casts", "same", "", fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	r.Close()

	if _, err := NewRecorder("/casts", "same", "", fs, clock); err == nil {
		t.Fatal("expected error when recording file already exists")
	}
}

func TestNewRecorder_InvalidPath(t *testing.T) {
	// /dev/null is not a directory
	_, err := NewRecorder("/dev/null/recordings", "bad", "", realfs.New(), realclock.New())
	if err == nil {
		t.Fatal("expected error for invalid path, got nil")
	}
}

// ---------- Record tests ----------

func TestRecorder_InputAndOutputEvents(t *testing.T) {
	fs := fakefs.New()
	clock := fakeclock.New(epoch)

	r, err := NewRecorder("/casts", "io", "", fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	r.RecordOutput("  5  ->\tfmt.Println(x)\n")
	clock.Advance(250 * time.Millisecond)
	r.RecordInput("n\n")
	clock.Advance(time.Second)
	r.RecordOutput("> main.go:6 main.main()\n")
	r.Close()

	data, _ := fs.ReadFile(r.Path())
	_, events := readEvents(t, data)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	wantTypes := []string{"o", "i", "o"}
	wantTimes := []float64{0, 0.25, 1.25}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Errorf("event[%d].Type = %q, want %q", i, ev.Type, wantTypes[i])
		}
		if ev.Time != wantTimes[i] {
			t.Errorf("event[%d].Time = %v, want %v", i, ev.Time, wantTimes[i])
		}
	}
	if events[1].Data != "n\n" {
		t.Errorf("input data = %q, want %q", events[1].Data, "n\n")
	}
}

func TestRecorder_RecordAfterCloseIsNoop(t *testing.T) {
	fs := fakefs.New()
	r, err := NewRecorder("/casts", "closed", "", fs, fakeclock.New(epoch))
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if err := r.RecordOutput("late"); err != nil {
		t.Errorf("RecordOutput() after Close error = %v, want nil", err)
	}

	data, _ := fs.ReadFile(r.Path())
	if _, events := readEvents(t, data); len(events) != 0 {
		t.Errorf("expected no events after close, got %d", len(events))
	}
}

func TestRecorder_ConcurrentRecording(t *testing.T) {
	fs := fakefs.New()
	r, err := NewRecorder("/casts", "conc", "", fs, fakeclock.New(epoch))
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordOutput("x")
			r.RecordInput("y")
		}()
	}
	wg.Wait()
	r.Close()

	data, _ := fs.ReadFile(r.Path())
	if _, events := readEvents(t, data); len(events) != 40 {
		t.Errorf("expected 40 events, got %d", len(events))
	}
}

// ---------- Tee tests ----------

func TestRecorder_ReaderAndWriter(t *testing.T) {
	fs := fakefs.New()
	r, err := NewRecorder("/casts", "tee", "", fs, fakeclock.New(epoch))
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	in := r.Reader(strings.NewReader("where\n"))
	got, _ := io.ReadAll(in)
	if string(got) != "where\n" {
		t.Errorf("Reader passed through %q", got)
	}

	var out bytes.Buffer
	w := r.Writer(&out)
	w.Write([]byte("> main.go:3\n"))
	if out.String() != "> main.go:3\n" {
		t.Errorf("Writer passed through %q", out.String())
	}
	r.Close()

	data, _ := fs.ReadFile(r.Path())
	_, events := readEvents(t, data)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "i" || events[0].Data != "where\n" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Type != "o" || events[1].Data != "> main.go:3\n" {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestNewRecorder_RealFilesystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	r, err := NewRecorder(dir, "real", "", realfs.New(), realclock.New())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	r.RecordOutput("hi")
	r.Close()

	data, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if _, events := readEvents(t, data); len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}
