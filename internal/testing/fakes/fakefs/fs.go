// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acolita/sdb/internal/ports"
)

// FS is an in-memory filesystem for testing.
type FS struct {
	mu    sync.RWMutex
	files map[string]*fakeFile
	dirs  map[string]bool
	env   map[string]string
	wd    string
}

type fakeFile struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// New creates a new in-memory filesystem rooted at "/" with "/work" as the working directory.
func New() *FS {
	return &FS{
		files: make(map[string]*fakeFile),
		dirs:  map[string]bool{"/": true, "/work": true},
		env:   make(map[string]string),
		wd:    "/work",
	}
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = f.abs(name)
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	// Return a copy to prevent mutation
	data := make([]byte, len(file.data))
	copy(data, file.data)
	return data, nil
}

// WriteFile writes data to the named file, creating it if necessary.
// Parent directories are automatically created.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = f.abs(name)
	f.mkdirAllLocked(filepath.Dir(name))
	f.files[name] = &fakeFile{
		data:    bytes.Clone(data),
		mode:    perm,
		modTime: time.Now(),
	}
	return nil
}

// OpenFile opens a writable handle. O_EXCL on an existing file fails with fs.ErrExist,
// O_APPEND keeps existing content, everything else truncates.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = f.abs(name)
	existing, ok := f.files[name]
	if ok && flag&os.O_EXCL != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	}
	if !ok && flag&os.O_CREATE == 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if !f.dirs[filepath.Dir(name)] {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	file := &fakeFile{mode: perm, modTime: time.Now()}
	if ok && flag&os.O_APPEND != 0 {
		file.data = existing.data
	}
	f.files[name] = file
	return &handle{fs: f, name: name}, nil
}

// mkdirAllLocked creates directories (must be called with lock held).
func (f *FS) mkdirAllLocked(path string) {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		f.dirs[p] = true
		if p == "/" || p == "." {
			return
		}
	}
}

// abs resolves name against the working directory (must be called with lock held).
func (f *FS) abs(name string) string {
	if !filepath.IsAbs(name) {
		name = filepath.Join(f.wd, name)
	}
	return filepath.Clean(name)
}

// Stat returns file info for the named file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = f.abs(name)
	if f.dirs[name] {
		return &fakeFileInfo{
			name:    filepath.Base(name),
			mode:    fs.ModeDir | 0755,
			modTime: time.Now(),
			isDir:   true,
		}, nil
	}

	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}

	return &fakeFileInfo{
		name:    filepath.Base(name),
		size:    int64(len(file.data)),
		mode:    file.mode,
		modTime: file.modTime,
	}, nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mkdirAllLocked(f.abs(path))
	return nil
}

// Getwd returns the configured working directory.
func (f *FS) Getwd() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.wd, nil
}

// Getenv retrieves the value of the environment variable.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// --- Test helpers ---

// AddFile adds a file to the fake filesystem.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = f.abs(name)
	f.mkdirAllLocked(filepath.Dir(name))
	f.files[name] = &fakeFile{
		data:    bytes.Clone(data),
		mode:    mode,
		modTime: time.Now(),
	}
}

// SetWd sets the working directory returned by Getwd.
func (f *FS) SetWd(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wd = filepath.Clean(dir)
	f.mkdirAllLocked(f.wd)
}

// SetEnv sets an environment variable.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Files returns a sorted list of all file paths, optionally filtered by prefix.
func (f *FS) Files(prefix ...string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	paths := make([]string, 0, len(f.files))
	for path := range f.files {
		if len(prefix) > 0 && !strings.HasPrefix(path, prefix[0]) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// handle is a writable file that appends into the in-memory map.
type handle struct {
	fs     *FS
	name   string
	closed bool
}

func (h *handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, fs.ErrClosed
	}
	file := h.fs.files[h.name]
	file.data = append(file.data, p...)
	file.modTime = time.Now()
	return len(p), nil
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	return nil
}

func (h *handle) Name() string { return h.name }

// fakeFileInfo implements fs.FileInfo.
type fakeFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fakeFileInfo) Name() string       { return fi.name }
func (fi *fakeFileInfo) Size() int64        { return fi.size }
func (fi *fakeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fakeFileInfo) Sys() any           { return nil }

var (
	_ ports.FileSystem = (*FS)(nil)
	_ ports.FileHandle = (*handle)(nil)
	_ os.FileInfo      = (*fakeFileInfo)(nil)
)
