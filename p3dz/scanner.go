package p3dz

import (
	"context"
	"errors"
	"io"

	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
	"github.com/flaneur2020/p3dz-get/p3dz/logger"
	"github.com/flaneur2020/p3dz-get/p3dz/p3dzutil"
	stor "github.com/flaneur2020/p3dz-get/p3dz/storage"
)

// Scanner finds P3DZ containers in a Storage by their leading tag.
type Scanner struct {
	storage stor.Storage
}

// NewScanner creates a Scanner over storage.
func NewScanner(storage stor.Storage) *Scanner {
	return &Scanner{storage: storage}
}

// Scan returns every file whose first four bytes are the P3DZ tag, in path
// order. Files that cannot be read are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context) ([]stor.FileDescriptor, error) {
	files, err := s.storage.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	var matched []stor.FileDescriptor
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if file.Size < int64(len(p3dzutil.Magic)) {
			continue
		}

		ok, err := IsContainer(ctx, s.storage, file.Path)
		if err != nil {
			logger.Warn("Skipping %s: %v", file.Path, err)
			continue
		}
		if ok {
			matched = append(matched, file)
		}
	}

	logger.Info("Found %d P3DZ files out of %d", len(matched), len(files))
	return matched, nil
}

// IsContainer reads the first bytes of path and reports whether they carry
// the P3DZ tag.
func IsContainer(ctx context.Context, storage stor.Storage, path string) (bool, error) {
	rc, err := storage.ReadFile(ctx, path, 0, int64(len(p3dzutil.Magic)))
	if err != nil {
		return false, err
	}
	defer rc.Close()

	tag := make([]byte, len(p3dzutil.Magic))
	if _, err := io.ReadFull(rc, tag); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return p3dzutil.HasMagic(tag), nil
}

// ReadContainer loads the full content of path from storage.
func ReadContainer(ctx context.Context, storage stor.Storage, path string) ([]byte, error) {
	rc, err := storage.ReadFile(ctx, path, 0, 0)
	if err != nil {
		return nil, p3dzerrors.ErrFileRead.WithDetail("path", path).WithCause(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, p3dzerrors.ErrFileRead.WithDetail("path", path).WithCause(err)
	}
	return data, nil
}
