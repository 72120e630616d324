// Package logfile provides the size-rotated file that command logs are
// written to.
package logfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Defaults used when Options fields are zero.
const (
	DefaultMaxBytes = 10 << 20
	DefaultBackups  = 5
)

// Options configures a File.
type Options struct {
	// MaxBytes is the size a file may reach before it is rotated.
	MaxBytes int64
	// Backups is how many rotated files (path.1 ... path.N) are kept. A
	// negative value keeps none.
	Backups int
}

// File is an append-only log file that rotates itself by size. Before a
// write that would take the file past MaxBytes, path.N-1 moves to path.N
// down to path becoming path.1, and the oldest backup is dropped. Writes are
// never split across files.
type File struct {
	mu   sync.Mutex
	path string
	opts Options
	f    *os.File
	size int64
}

var _ io.WriteCloser = (*File)(nil)

// Open opens or creates path for appending, creating parent directories.
func Open(path string, opts Options) (*File, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Backups == 0 {
		opts.Backups = DefaultBackups
	} else if opts.Backups < 0 {
		opts.Backups = 0
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logfile: %w", err)
	}
	lf := &File{path: path, opts: opts}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (l *File) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logfile: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logfile: %w", err)
	}
	l.f, l.size = f, info.Size()
	return nil
}

// Write appends p, rotating first when p would not fit. A write larger than
// MaxBytes lands alone in a fresh file.
func (l *File) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return 0, os.ErrClosed
	}
	if l.size > 0 && l.size+int64(len(p)) > l.opts.MaxBytes {
		if err := l.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := l.f.Write(p)
	l.size += int64(n)
	return n, err
}

// Close closes the current file. Later writes fail with os.ErrClosed.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *File) rotate() error {
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("logfile: rotate: %w", err)
	}
	l.f = nil

	if l.opts.Backups == 0 {
		_ = os.Remove(l.path)
	} else {
		_ = os.Remove(l.backup(l.opts.Backups))
		for n := l.opts.Backups - 1; n >= 1; n-- {
			_ = os.Rename(l.backup(n), l.backup(n+1))
		}
		if err := os.Rename(l.path, l.backup(1)); err != nil {
			return fmt.Errorf("logfile: rotate: %w", err)
		}
	}
	return l.open()
}

func (l *File) backup(n int) string {
	return l.path + "." + strconv.Itoa(n)
}
