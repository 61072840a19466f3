package storage

import (
	"context"
	"io"
)

// FileDescriptor describes a file available from storage.
type FileDescriptor struct {
	Path string // slash-separated, relative to the storage root
	Size int64
}

// Storage abstracts file enumeration and ranged reads.
type Storage interface {
	ListFiles(ctx context.Context) ([]FileDescriptor, error)
	// ReadFile returns a reader over length bytes starting at offset. A length
	// of 0 reads to the end of the file.
	ReadFile(ctx context.Context, path string, offset int64, length int64) (io.ReadCloser, error)
}
