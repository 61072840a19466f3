package p3dzutil

import (
	"encoding/binary"

	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
)

const (
	// Magic is the tag every container starts with.
	Magic = "P3DZ"

	// HeaderSize covers the magic tag and the total decompressed size.
	HeaderSize = 8

	// ChunkHeaderSize covers the compressed and decompressed size of a chunk record.
	ChunkHeaderSize = 8
)

// Container is a parsed view over the bytes of a P3DZ file. Chunk payloads
// alias the input; nothing is copied.
type Container struct {
	TotalSize uint32
	Chunks    []ChunkDescriptor
	// End is the offset just past the last consumed chunk record.
	End int
}

// ChunkDescriptor describes a single compressed chunk record.
type ChunkDescriptor struct {
	Index            int
	Offset           int // offset of the record header within the file
	CompressedSize   uint32
	DecompressedSize uint32
	Payload          []byte
}

// PayloadOffset returns the file offset of the chunk's compressed bytes.
func (c ChunkDescriptor) PayloadOffset() int {
	return c.Offset + ChunkHeaderSize
}

// HasMagic reports whether data starts with the container tag.
func HasMagic(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}

// ParseContainer validates the header and walks the chunk table. Chunks are
// read until the running sum of declared decompressed sizes reaches the
// declared total; there is no explicit chunk count.
func ParseContainer(data []byte) (*Container, error) {
	if len(data) < len(Magic) {
		return nil, p3dzerrors.ErrFormat.
			WithMessage("file too short for P3DZ tag").
			WithDetail("size", len(data))
	}
	if !HasMagic(data) {
		return nil, p3dzerrors.ErrFormat.
			WithMessage("not a 'P3DZ' file").
			WithDetail("tag", string(data[:len(Magic)]))
	}
	if len(data) < HeaderSize {
		return nil, p3dzerrors.ErrFormat.
			WithMessage("file too short for P3DZ header").
			WithDetail("size", len(data))
	}

	c := &Container{
		TotalSize: binary.LittleEndian.Uint32(data[4:8]),
	}

	offset := HeaderSize
	var declared uint64
	for declared < uint64(c.TotalSize) {
		if len(data)-offset < ChunkHeaderSize {
			return nil, p3dzerrors.ErrTruncatedStream.
				WithMessage("chunk record header runs past end of file").
				WithDetail("chunk", len(c.Chunks)).
				WithDetail("offset", offset).
				WithDetail("needed", ChunkHeaderSize).
				WithDetail("available", len(data)-offset)
		}

		desc := ChunkDescriptor{
			Index:            len(c.Chunks),
			Offset:           offset,
			CompressedSize:   binary.LittleEndian.Uint32(data[offset : offset+4]),
			DecompressedSize: binary.LittleEndian.Uint32(data[offset+4 : offset+8]),
		}

		start := offset + ChunkHeaderSize
		if uint64(len(data)-start) < uint64(desc.CompressedSize) {
			return nil, p3dzerrors.ErrTruncatedStream.
				WithMessage("chunk payload runs past end of file").
				WithDetail("chunk", desc.Index).
				WithDetail("offset", start).
				WithDetail("needed", desc.CompressedSize).
				WithDetail("available", len(data)-start)
		}
		end := start + int(desc.CompressedSize)
		desc.Payload = data[start:end:end]

		c.Chunks = append(c.Chunks, desc)
		declared += uint64(desc.DecompressedSize)
		offset = end
	}

	c.End = offset
	return c, nil
}
