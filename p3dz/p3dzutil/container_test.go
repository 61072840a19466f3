package p3dzutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
)

// buildContainer assembles a container from raw chunk records.
func buildContainer(total uint32, records ...chunkRecord) []byte {
	buf := []byte(Magic)
	buf = binary.LittleEndian.AppendUint32(buf, total)
	for _, r := range records {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.payload)))
		buf = binary.LittleEndian.AppendUint32(buf, r.decompressed)
		buf = append(buf, r.payload...)
	}
	return buf
}

type chunkRecord struct {
	decompressed uint32
	payload      []byte
}

func TestParseContainer(t *testing.T) {
	first := append([]byte{0x0c}, "hello, world"...)
	second := append([]byte{0x08}, "p3dz!!!!"...)
	data := buildContainer(20,
		chunkRecord{decompressed: 12, payload: first},
		chunkRecord{decompressed: 8, payload: second},
	)

	c, err := ParseContainer(data)
	if err != nil {
		t.Fatalf("ParseContainer() error = %v", err)
	}

	if c.TotalSize != 20 {
		t.Errorf("TotalSize = %d, want 20", c.TotalSize)
	}
	if len(c.Chunks) != 2 {
		t.Fatalf("len(Chunks) = %d, want 2", len(c.Chunks))
	}
	if c.End != len(data) {
		t.Errorf("End = %d, want %d", c.End, len(data))
	}

	if c.Chunks[0].Offset != HeaderSize {
		t.Errorf("Chunks[0].Offset = %d, want %d", c.Chunks[0].Offset, HeaderSize)
	}
	if !bytes.Equal(c.Chunks[0].Payload, first) {
		t.Errorf("Chunks[0].Payload = %q, want %q", c.Chunks[0].Payload, first)
	}
	wantOffset := HeaderSize + ChunkHeaderSize + len(first)
	if c.Chunks[1].Offset != wantOffset {
		t.Errorf("Chunks[1].Offset = %d, want %d", c.Chunks[1].Offset, wantOffset)
	}
	if c.Chunks[1].PayloadOffset() != wantOffset+ChunkHeaderSize {
		t.Errorf("Chunks[1].PayloadOffset() = %d, want %d", c.Chunks[1].PayloadOffset(), wantOffset+ChunkHeaderSize)
	}
	if c.Chunks[1].DecompressedSize != 8 || c.Chunks[1].CompressedSize != uint32(len(second)) {
		t.Errorf("Chunks[1] sizes = %d/%d, want %d/8", c.Chunks[1].CompressedSize, c.Chunks[1].DecompressedSize, len(second))
	}
}

func TestParseContainer_StopsAtDeclaredTotal(t *testing.T) {
	payload := append([]byte{0x04}, "abcd"...)
	data := buildContainer(4, chunkRecord{decompressed: 4, payload: payload})
	trailer := []byte("trailing garbage")
	data = append(data, trailer...)

	c, err := ParseContainer(data)
	if err != nil {
		t.Fatalf("ParseContainer() error = %v", err)
	}
	if len(c.Chunks) != 1 {
		t.Errorf("len(Chunks) = %d, want 1", len(c.Chunks))
	}
	if c.End != len(data)-len(trailer) {
		t.Errorf("End = %d, want %d", c.End, len(data)-len(trailer))
	}
}

func TestParseContainer_Empty(t *testing.T) {
	c, err := ParseContainer(buildContainer(0))
	if err != nil {
		t.Fatalf("ParseContainer() error = %v", err)
	}
	if len(c.Chunks) != 0 {
		t.Errorf("len(Chunks) = %d, want 0", len(c.Chunks))
	}
}

func TestParseContainer_Errors(t *testing.T) {
	valid := buildContainer(4, chunkRecord{decompressed: 4, payload: append([]byte{0x04}, "abcd"...)})

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name:    "empty file",
			data:    nil,
			wantErr: p3dzerrors.ErrFormat,
		},
		{
			name:    "wrong tag",
			data:    append([]byte("PK\x03\x04"), valid[4:]...),
			wantErr: p3dzerrors.ErrFormat,
		},
		{
			name:    "header without total",
			data:    []byte("P3DZ\x01"),
			wantErr: p3dzerrors.ErrFormat,
		},
		{
			name:    "chunk table missing",
			data:    valid[:HeaderSize],
			wantErr: p3dzerrors.ErrTruncatedStream,
		},
		{
			name:    "chunk header cut short",
			data:    valid[:HeaderSize+5],
			wantErr: p3dzerrors.ErrTruncatedStream,
		},
		{
			name:    "payload cut short",
			data:    valid[:len(valid)-1],
			wantErr: p3dzerrors.ErrTruncatedStream,
		},
		{
			name: "declared sizes never reach total",
			data: buildContainer(10,
				chunkRecord{decompressed: 4, payload: append([]byte{0x04}, "abcd"...)},
			),
			wantErr: p3dzerrors.ErrTruncatedStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseContainer(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseContainer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseContainer_WrongTagDetail(t *testing.T) {
	_, err := ParseContainer([]byte("ABCD\x00\x00\x00\x00"))

	var p3dzErr *p3dzerrors.P3DZError
	if !errors.As(err, &p3dzErr) {
		t.Fatalf("ParseContainer() error = %v, want P3DZError", err)
	}
	if p3dzErr.Details["tag"] != "ABCD" {
		t.Errorf("tag detail = %v, want ABCD", p3dzErr.Details["tag"])
	}
}

func TestHasMagic(t *testing.T) {
	tests := []struct {
		data []byte
		want bool
	}{
		{[]byte("P3DZ"), true},
		{[]byte("P3DZ\x10\x00\x00\x00"), true},
		{[]byte("P3D"), false},
		{[]byte("p3dz"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := HasMagic(tt.data); got != tt.want {
			t.Errorf("HasMagic(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

// loadFixture reads a container and the output the reference decoder produced for it.
func loadFixture(t *testing.T, name string) ([]byte, []byte) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("../../testdata", name))
	if err != nil {
		t.Fatalf("failed to read testdata file %s: %v", name, err)
	}
	want, err := os.ReadFile(filepath.Join("../../testdata", name+".decompressed"))
	if err != nil {
		t.Fatalf("failed to read expected output for %s: %v", name, err)
	}
	return data, want
}

func TestFixtures_ChunkByChunk(t *testing.T) {
	tests := []struct {
		filename   string
		wantChunks int
	}{
		{"hello.p3dz", 1},
		{"multi.p3dz", 3},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			data, want := loadFixture(t, tt.filename)

			c, err := ParseContainer(data)
			if err != nil {
				t.Fatalf("ParseContainer() error = %v", err)
			}
			if len(c.Chunks) != tt.wantChunks {
				t.Fatalf("len(Chunks) = %d, want %d", len(c.Chunks), tt.wantChunks)
			}
			if int(c.TotalSize) != len(want) {
				t.Errorf("TotalSize = %d, want %d", c.TotalSize, len(want))
			}

			var got []byte
			for _, chunk := range c.Chunks {
				out, err := ChunkDecoder{SizeHint: int(chunk.DecompressedSize)}.Decode(chunk.Payload)
				if err != nil {
					t.Fatalf("chunk %d: Decode() error = %v", chunk.Index, err)
				}
				if len(out) != int(chunk.DecompressedSize) {
					t.Errorf("chunk %d: decoded %d bytes, want %d", chunk.Index, len(out), chunk.DecompressedSize)
				}
				got = append(got, out...)
			}

			if !bytes.Equal(got, want) {
				t.Errorf("decoded output differs from reference (%d vs %d bytes)", len(got), len(want))
			}
		})
	}
}
