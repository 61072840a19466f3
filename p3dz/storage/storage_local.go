package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/flaneur2020/p3dz-get/p3dz/logger"
)

// LocalStorage serves regular files below a directory on the local filesystem.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a storage rooted at dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{root: dir}
}

// Root returns the directory the storage serves.
func (s *LocalStorage) Root() string {
	return s.root
}

// ListFiles walks the root recursively and returns every regular file,
// sorted by path. Unreadable subdirectories are skipped with a warning.
func (s *LocalStorage) ListFiles(ctx context.Context) ([]FileDescriptor, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", s.root)
	}

	var files []FileDescriptor
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && path != s.root {
				logger.Warn("Skipping directory %s: %v", path, err)
				return fs.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			logger.Warn("Skipping %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		files = append(files, FileDescriptor{
			Path: filepath.ToSlash(rel),
			Size: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	logger.Debug("Listed %d files under %s", len(files), s.root)
	return files, nil
}

// ReadFile opens path relative to the root and returns a reader over the
// requested range.
func (s *LocalStorage) ReadFile(ctx context.Context, path string, offset int64, length int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative")
	}

	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	if length <= 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, length), file: f}, nil
}

func (s *LocalStorage) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

type limitedFile struct {
	io.Reader
	file *os.File
}

func (l *limitedFile) Close() error {
	return l.file.Close()
}
