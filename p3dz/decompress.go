package p3dz

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
	"github.com/flaneur2020/p3dz-get/p3dz/logger"
	"github.com/flaneur2020/p3dz-get/p3dz/p3dzutil"
	"golang.org/x/sync/errgroup"
)

// maxChunkSizeHint caps the buffer pre-allocated from a declared chunk size,
// since the header is untrusted input.
const maxChunkSizeHint = 16 << 20

// ContainerDecoder turns the bytes of a whole P3DZ file into its decompressed content.
type ContainerDecoder interface {
	Decompress(ctx context.Context, data []byte) ([]byte, error)
}

// Options configures a Decompressor.
type Options struct {
	// Workers bounds how many chunks are decoded at once. Values <= 0 use
	// GOMAXPROCS.
	Workers int
	// TraceChunks logs every decoded instruction at debug level.
	TraceChunks bool
}

// Decompressor decodes containers, fanning chunks out to a bounded set of
// goroutines and joining their output in chunk order.
type Decompressor struct {
	workers int
	trace   bool
}

var _ ContainerDecoder = (*Decompressor)(nil)

// NewDecompressor creates a Decompressor.
func NewDecompressor(opts Options) *Decompressor {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Decompressor{
		workers: workers,
		trace:   opts.TraceChunks,
	}
}

// Decompress decodes a whole container held in memory.
func Decompress(data []byte) ([]byte, error) {
	return NewDecompressor(Options{Workers: 1}).Decompress(context.Background(), data)
}

// DecompressChunk decodes a single chunk payload.
func DecompressChunk(payload []byte) ([]byte, error) {
	return p3dzutil.DecompressChunk(payload)
}

// Decompress parses the chunk table of data, decodes every chunk and returns
// their concatenation. Each chunk must decode to its declared size and the
// result must match the declared total.
func (d *Decompressor) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	c, err := p3dzutil.ParseContainer(data)
	if err != nil {
		return nil, err
	}

	logger.Debug("total decompressed size %d in %d chunks", c.TotalSize, len(c.Chunks))
	if c.End < len(data) {
		logger.Debug("ignoring %d trailing bytes after offset %d", len(data)-c.End, c.End)
	}

	outputs := make([][]byte, len(c.Chunks))
	if d.workers == 1 || len(c.Chunks) <= 1 {
		for _, chunk := range c.Chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := d.decodeChunk(chunk)
			if err != nil {
				return nil, err
			}
			outputs[chunk.Index] = out
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)
		for _, chunk := range c.Chunks {
			chunk := chunk
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := d.decodeChunk(chunk)
				if err != nil {
					return err
				}
				outputs[chunk.Index] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	size := 0
	for _, out := range outputs {
		size += len(out)
	}
	result := make([]byte, 0, size)
	for _, out := range outputs {
		result = append(result, out...)
	}

	if uint64(len(result)) != uint64(c.TotalSize) {
		return nil, p3dzerrors.ErrSizeMismatch.
			WithMessage("decompressed size does not match declared total").
			WithDetail("expected", c.TotalSize).
			WithDetail("actual", len(result))
	}

	return result, nil
}

func (d *Decompressor) decodeChunk(chunk p3dzutil.ChunkDescriptor) ([]byte, error) {
	hint := int(chunk.DecompressedSize)
	if hint > maxChunkSizeHint || hint < 0 {
		hint = maxChunkSizeHint
	}

	dec := p3dzutil.ChunkDecoder{SizeHint: hint}
	if d.trace && logger.Enabled(logger.LogLevelDebug) {
		dec.Trace = func(ins p3dzutil.Instruction) {
			logger.Debug("chunk %d: %s op=0x%02x len=%d dist=%d in=%d out=%d pad=%d",
				chunk.Index, ins.Kind, ins.Opcode, ins.Length, ins.Distance, ins.InOffset, ins.OutOffset, ins.Padding)
		}
	}

	logger.Debug("decompressing chunk %d: compressed %d, decompressed %d",
		chunk.Index, chunk.CompressedSize, chunk.DecompressedSize)

	out, err := dec.Decode(chunk.Payload)
	if err != nil {
		return nil, chunkError(err, chunk)
	}

	if uint64(len(out)) != uint64(chunk.DecompressedSize) {
		return nil, p3dzerrors.ErrSizeMismatch.
			WithMessage("chunk decompressed size does not match its record").
			WithDetail("chunk", chunk.Index).
			WithDetail("offset", chunk.Offset).
			WithDetail("expected", chunk.DecompressedSize).
			WithDetail("actual", len(out))
	}
	return out, nil
}

// chunkError attaches the chunk position to an error from the chunk decoder.
// Offsets reported by the decoder stay relative to the payload.
func chunkError(err error, chunk p3dzutil.ChunkDescriptor) error {
	var p3dzErr *p3dzerrors.P3DZError
	if errors.As(err, &p3dzErr) {
		return p3dzErr.
			WithDetail("chunk", chunk.Index).
			WithDetail("payloadOffset", chunk.PayloadOffset())
	}
	return fmt.Errorf("chunk %d: %w", chunk.Index, err)
}
