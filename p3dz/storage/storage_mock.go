package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MockStorage is a simple in-memory Storage implementation for tests.
type MockStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMockStorage constructs an empty MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files: make(map[string][]byte),
	}
}

// ListFiles returns descriptors for all stored files, sorted by path.
func (m *MockStorage) ListFiles(ctx context.Context) ([]FileDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	descs := make([]FileDescriptor, 0, len(m.files))
	for path, data := range m.files {
		descs = append(descs, FileDescriptor{
			Path: path,
			Size: int64(len(data)),
		})
	}
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].Path < descs[j].Path
	})
	return descs, nil
}

// ReadFile returns a reader over the requested byte range.
func (m *MockStorage) ReadFile(ctx context.Context, path string, offset int64, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("mock storage: file not found: %s", path)
	}

	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("mock storage: invalid offset %d for file %s", offset, path)
	}

	end := int64(len(data))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	slice := data[offset:end]
	return io.NopCloser(bytes.NewReader(slice)), nil
}

// AddFile stores a copy of data under path.
func (m *MockStorage) AddFile(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[path] = append([]byte(nil), data...)
}
