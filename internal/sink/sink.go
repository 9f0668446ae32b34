// Package sink implements the WritableSink capability port C9 writes
// received chunks through: an in-memory accumulator for small files and a
// streaming file sink for anything over the in-memory threshold.
package sink

import (
	"bytes"
	"fmt"
	"os"
)

// MaxInMemory is the default size threshold above which the receive
// pipeline prefers a streaming sink over buffering in memory (spec §4.9.1).
const MaxInMemory = 200 * 1024 * 1024

// WritableSink is the capability port the receive pipeline writes payload
// bytes through, in arrival order.
type WritableSink interface {
	Write(p []byte) error
	Close() error
}

// Memory appends every chunk's payload, in arrival order, to a single
// growing buffer that Bytes returns. It is the default sink for any
// transfer under MaxInMemory.
type Memory struct {
	buf bytes.Buffer
}

// NewMemory creates an empty in-memory sink sized to the expected total,
// to avoid repeated reallocation as chunks arrive.
func NewMemory(expectedSize int64) *Memory {
	m := &Memory{}
	if expectedSize > 0 && expectedSize < 1<<30 {
		m.buf.Grow(int(expectedSize))
	}
	return m
}

func (m *Memory) Write(p []byte) error {
	_, err := m.buf.Write(p)
	return err
}

// Close is a no-op; the accumulated bytes remain available via Bytes.
func (m *Memory) Close() error { return nil }

// Bytes returns the concatenated payload accumulated so far.
func (m *Memory) Bytes() []byte { return m.buf.Bytes() }

// File streams payload bytes directly to disk, for transfers over
// MaxInMemory or whenever the caller chooses not to buffer.
type File struct {
	f    *os.File
	path string
}

// NewFile creates (or truncates) path and returns a streaming sink backed
// by it.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &File{f: f, path: path}, nil
}

func (s *File) Write(p []byte) error {
	if _, err := s.f.Write(p); err != nil {
		return fmt.Errorf("sink: write %s: %w", s.path, err)
	}
	return nil
}

func (s *File) Close() error {
	return s.f.Close()
}

// Path returns the destination path this sink was opened for.
func (s *File) Path() string { return s.path }
