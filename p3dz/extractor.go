package p3dz

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
	"github.com/flaneur2020/p3dz-get/p3dz/logger"
	stor "github.com/flaneur2020/p3dz-get/p3dz/storage"
)

// DefaultSuffix is appended to a container's path to name its output.
const DefaultSuffix = ".decompressed"

// ProgressCallback is called during extraction to report progress
// current: compressed bytes processed so far
// total: compressed size of all jobs
type ProgressCallback func(current int64, total int64)

// Compression selects how extracted output is stored on disk.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a compression name. The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, gzip or zstd)", s)
	}
}

// Ext returns the file extension added for the compression.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// ExtractOptions configures an Extractor.
type ExtractOptions struct {
	// OutputDir receives outputs, mirroring the storage layout. Defaults to ".".
	OutputDir string
	// Suffix is appended to each path. Defaults to DefaultSuffix.
	Suffix      string
	Compression Compression
	// Overwrite replaces outputs that already exist instead of skipping them.
	Overwrite bool
}

// ExtractJob represents a single file to decompress.
type ExtractJob struct {
	Path       string // path within storage
	Size       int64  // compressed size
	OutputPath string
}

// ExtractStats contains statistics about an extraction.
type ExtractStats struct {
	TotalFiles     int
	TotalBytes     int64 // compressed bytes across all jobs
	ExtractedFiles int
	ExtractedBytes int64 // decompressed bytes written (before output compression)
	SkippedFiles   int
	FailedFiles    int
}

// VerifyResult is the outcome of decoding one container without writing it.
type VerifyResult struct {
	Path   string
	Size   int           // decompressed size
	Digest digest.Digest // digest of the decompressed bytes
	Err    error
}

// Extractor reads containers from storage and writes their decompressed content.
type Extractor struct {
	storage stor.Storage
	decoder ContainerDecoder
	opts    ExtractOptions
}

// NewExtractor creates an Extractor. decoder is usually a *Decompressor or a *Cache.
func NewExtractor(storage stor.Storage, decoder ContainerDecoder, opts ExtractOptions) *Extractor {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	return &Extractor{
		storage: storage,
		decoder: decoder,
		opts:    opts,
	}
}

// Jobs builds one job per file, placing outputs under OutputDir with the same
// relative layout.
func (e *Extractor) Jobs(files []stor.FileDescriptor) []*ExtractJob {
	jobs := make([]*ExtractJob, 0, len(files))
	for _, file := range files {
		outputPath := filepath.Join(e.opts.OutputDir, filepath.FromSlash(file.Path)) +
			e.opts.Suffix + e.opts.Compression.Ext()
		jobs = append(jobs, &ExtractJob{
			Path:       file.Path,
			Size:       file.Size,
			OutputPath: outputPath,
		})
	}
	return jobs
}

// Extract decompresses every job in order. A failing job does not stop the
// others; the first failure is returned once all jobs ran.
func (e *Extractor) Extract(ctx context.Context, jobs []*ExtractJob, progress ProgressCallback) (*ExtractStats, error) {
	stats := &ExtractStats{TotalFiles: len(jobs)}
	for _, job := range jobs {
		stats.TotalBytes += job.Size
	}

	// Notify the callback of total size before starting
	if progress != nil {
		progress(0, stats.TotalBytes)
	}

	var (
		currentTotal int64
		firstErr     error
	)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		written, skipped, err := e.extractOne(ctx, job)
		switch {
		case err != nil:
			stats.FailedFiles++
			logger.Error("Failed to decompress %s: %v", job.Path, err)
			if firstErr == nil {
				firstErr = err
			}
		case skipped:
			stats.SkippedFiles++
			logger.Info("Skipping %s: %s already exists", job.Path, job.OutputPath)
		default:
			stats.ExtractedFiles++
			stats.ExtractedBytes += written
			logger.Info("Decompressed %s -> %s (%d bytes)", job.Path, job.OutputPath, written)
		}

		currentTotal += job.Size
		if progress != nil {
			progress(currentTotal, stats.TotalBytes)
		}
	}

	return stats, firstErr
}

func (e *Extractor) extractOne(ctx context.Context, job *ExtractJob) (int64, bool, error) {
	if !e.opts.Overwrite {
		if _, err := os.Stat(job.OutputPath); err == nil {
			return 0, true, nil
		}
	}

	data, err := ReadContainer(ctx, e.storage, job.Path)
	if err != nil {
		return 0, false, err
	}

	out, err := e.decoder.Decompress(ctx, data)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", job.Path, err)
	}

	if err := writeOutput(job.OutputPath, out, e.opts.Compression); err != nil {
		return 0, false, p3dzerrors.ErrExtractFailed.
			WithDetail("path", job.Path).
			WithDetail("output", job.OutputPath).
			WithCause(err)
	}
	return int64(len(out)), false, nil
}

// Verify decodes every file without writing anything.
func (e *Extractor) Verify(ctx context.Context, files []stor.FileDescriptor) []VerifyResult {
	results := make([]VerifyResult, 0, len(files))
	for _, file := range files {
		result := VerifyResult{Path: file.Path}
		if err := ctx.Err(); err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		data, err := ReadContainer(ctx, e.storage, file.Path)
		if err == nil {
			var out []byte
			out, err = e.decoder.Decompress(ctx, data)
			if err == nil {
				result.Size = len(out)
				result.Digest = digest.FromBytes(out)
			}
		}
		result.Err = err
		if err != nil {
			logger.Error("Failed to decompress %s: %v", file.Path, err)
		} else {
			logger.Info("Verified %s (%d bytes, %s)", file.Path, result.Size, result.Digest)
		}
		results = append(results, result)
	}
	return results
}

// writeOutput writes data to path through a temporary file, so a failed write
// never leaves a partial output behind.
func writeOutput(path string, data []byte, compression Compression) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encodeOutput(tmp, data, compression); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename output: %w", err)
	}
	return nil
}

func encodeOutput(w io.Writer, data []byte, compression Compression) error {
	var enc io.WriteCloser
	switch compression {
	case CompressionGzip:
		enc = gzip.NewWriter(w)
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		enc = zw
	default:
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write %s output: %w", compression, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish %s output: %w", compression, err)
	}
	return nil
}
