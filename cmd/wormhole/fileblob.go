package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// fileBlob implements send.FileBlob over a regular file on disk, the
// concrete port the sender's CLI role feeds into the send pipeline.
type fileBlob struct {
	f        *os.File
	name     string
	size     int64
	mimeType string
	modMs    int64
}

func openFileBlob(path string) (*fileBlob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &fileBlob{
		f:        f,
		name:     filepath.Base(path),
		size:     info.Size(),
		mimeType: mimeType,
		modMs:    info.ModTime().UnixMilli(),
	}, nil
}

func (b *fileBlob) Name() string            { return b.name }
func (b *fileBlob) Size() int64             { return b.size }
func (b *fileBlob) MIMEType() string        { return b.mimeType }
func (b *fileBlob) ModTimeUnixMilli() int64 { return b.modMs }

func (b *fileBlob) ReadAt(buf []byte, offset int64) (int, error) {
	return b.f.ReadAt(buf, offset)
}

func (b *fileBlob) Close() error { return b.f.Close() }
