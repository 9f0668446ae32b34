package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemorySink(t *testing.T) {
	m := NewMemory(16)
	if err := m.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := string(m.Bytes()); got != "hello world" {
		t.Errorf("Bytes() = %q, want %q", got, "hello world")
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if f.Path() != path {
		t.Errorf("Path() = %q, want %q", f.Path(), path)
	}
	if err := f.Write([]byte("chunk-a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Write([]byte("chunk-b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "chunk-achunk-b" {
		t.Errorf("file contents = %q, want %q", got, "chunk-achunk-b")
	}
}

func TestFileSinkTruncatesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("stale-data-longer-than-new"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	f.Write([]byte("new"))
	f.Close()

	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Errorf("file contents = %q, want %q (stale data should be truncated)", got, "new")
	}
}
