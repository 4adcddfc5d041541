package fakefs

import (
	"errors"
	"io/fs"
	"os"
	"testing"
)

func TestFS_ReadWriteFile(t *testing.T) {
	f := New()

	// WriteFile auto-creates parent directories (like production behavior)
	err := f.WriteFile("/nonexistent/nested/file.txt", []byte("data"), 0644)
	if err != nil {
		t.Fatalf("WriteFile() should auto-create parents, got error: %v", err)
	}

	data, err := f.ReadFile("/nonexistent/nested/file.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "data" {
		t.Errorf("ReadFile() = %q, want %q", data, "data")
	}

	if err := f.WriteFile("/nonexistent/nested/file.txt", []byte("updated"), 0644); err != nil {
		t.Fatalf("WriteFile() overwrite error = %v", err)
	}
	data, _ = f.ReadFile("/nonexistent/nested/file.txt")
	if string(data) != "updated" {
		t.Errorf("ReadFile() = %q, want %q", data, "updated")
	}
}

func TestFS_ReadFile_NotExist(t *testing.T) {
	f := New()

	_, err := f.ReadFile("/missing.go")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile() error = %v, want fs.ErrNotExist", err)
	}
}

func TestFS_RelativePaths(t *testing.T) {
	f := New()
	f.SetWd("/src/app")
	f.AddFile("main.go", []byte("package main"), 0644)

	data, err := f.ReadFile("/src/app/main.go")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "package main" {
		t.Errorf("ReadFile() = %q", data)
	}

	wd, _ := f.Getwd()
	if wd != "/src/app" {
		t.Errorf("Getwd() = %q, want %q", wd, "/src/app")
	}
}

func TestFS_Stat(t *testing.T) {
	f := New()
	f.AddFile("/tmp/test.txt", []byte("hello"), 0644)

	info, err := f.Stat("/tmp/test.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Name() != "test.txt" {
		t.Errorf("Name() = %q, want %q", info.Name(), "test.txt")
	}
	if info.Size() != 5 {
		t.Errorf("Size() = %d, want %d", info.Size(), 5)
	}
	if info.IsDir() {
		t.Error("IsDir() = true, want false")
	}

	dir, err := f.Stat("/tmp")
	if err != nil {
		t.Fatalf("Stat(dir) error = %v", err)
	}
	if !dir.IsDir() {
		t.Error("Stat(/tmp).IsDir() = false, want true")
	}
}

func TestFS_OpenFile(t *testing.T) {
	f := New()
	if err := f.MkdirAll("/rec", 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	h, err := f.OpenFile("/rec/a.cast", os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	h.Write([]byte("one\n"))
	h.Write([]byte("two\n"))
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if h.Name() != "/rec/a.cast" {
		t.Errorf("Name() = %q", h.Name())
	}

	data, _ := f.ReadFile("/rec/a.cast")
	if string(data) != "one\ntwo\n" {
		t.Errorf("contents = %q", data)
	}

	if _, err := h.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write after Close error = %v, want fs.ErrClosed", err)
	}

	_, err = f.OpenFile("/rec/a.cast", os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("OpenFile(O_EXCL) on existing file error = %v, want fs.ErrExist", err)
	}

	_, err = f.OpenFile("/nodir/a.cast", os.O_CREATE|os.O_WRONLY, 0600)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("OpenFile() without parent error = %v, want fs.ErrNotExist", err)
	}
}

func TestFS_Files(t *testing.T) {
	f := New()
	f.AddFile("/b/x.go", nil, 0644)
	f.AddFile("/a/y.go", nil, 0644)

	got := f.Files()
	if len(got) != 2 || got[0] != "/a/y.go" || got[1] != "/b/x.go" {
		t.Errorf("Files() = %v", got)
	}
	if got := f.Files("/b"); len(got) != 1 {
		t.Errorf("Files(/b) = %v", got)
	}
}

func TestFS_Getenv(t *testing.T) {
	f := New()
	f.SetEnv("SDB_PORT", "7000")

	if got := f.Getenv("SDB_PORT"); got != "7000" {
		t.Errorf("Getenv() = %q, want %q", got, "7000")
	}
	if got := f.Getenv("MISSING"); got != "" {
		t.Errorf("Getenv(MISSING) = %q, want empty", got)
	}
}
