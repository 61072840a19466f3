package p3dzutil

import (
	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
)

const (
	// literalOpcodeLimit is the first opcode that encodes a back-reference.
	literalOpcodeLimit = 16

	// extendedLengthBase is the length a zero base length starts from before
	// continuation bytes are added.
	extendedLengthBase = 15

	// extendedLengthStep is added for every zero continuation byte.
	extendedLengthStep = 255
)

// InstructionKind tells literal copies from back-references.
type InstructionKind int

const (
	InstructionLiteral InstructionKind = iota
	InstructionBackReference
)

func (k InstructionKind) String() string {
	if k == InstructionLiteral {
		return "literal"
	}
	return "backref"
}

// Instruction describes one decoded instruction. It is handed to a
// ChunkDecoder's Trace sink after the instruction has been applied.
type Instruction struct {
	Kind     InstructionKind
	Opcode   byte
	Length   int
	Distance int // zero for literal copies
	Padding  int // zero bytes appended because the source span ran past the output end

	InOffset  int // offset of the opcode within the payload
	OutOffset int // output length before the instruction
}

// TraceFunc receives every instruction a ChunkDecoder executes.
type TraceFunc func(Instruction)

// ChunkDecoder decodes chunk payloads. The zero value is ready to use.
type ChunkDecoder struct {
	// SizeHint pre-sizes the output buffer, normally the declared
	// decompressed size of the chunk.
	SizeHint int
	// Trace, if set, observes each instruction. It does not affect output.
	Trace TraceFunc
}

// DecompressChunk decodes one chunk payload into a fresh buffer.
func DecompressChunk(src []byte) ([]byte, error) {
	return ChunkDecoder{}.Decode(src)
}

// Decode runs the instruction stream in src until the input is exhausted.
// There is no end marker: the instruction that consumes the last byte is the
// last one executed.
func (d ChunkDecoder) Decode(src []byte) ([]byte, error) {
	hint := d.SizeHint
	if hint < 0 {
		hint = 0
	}
	out := make([]byte, 0, hint)
	inPos := 0

	for inPos < len(src) {
		opPos := inPos
		op := src[inPos]
		inPos++

		if op < literalOpcodeLimit {
			length, err := readLength(src, &inPos, int(op))
			if err != nil {
				return nil, err
			}
			if inPos+length > len(src) {
				return nil, truncated(inPos, length, len(src)-inPos).WithDetail("opcode", op)
			}

			outLen := len(out)
			out = append(out, src[inPos:inPos+length]...)
			inPos += length

			if d.Trace != nil {
				d.Trace(Instruction{
					Kind:      InstructionLiteral,
					Opcode:    op,
					Length:    length,
					InOffset:  opPos,
					OutOffset: outLen,
				})
			}
			continue
		}

		length, err := readLength(src, &inPos, int(op%16))
		if err != nil {
			return nil, err
		}
		if inPos >= len(src) {
			return nil, truncated(inPos, 1, 0).WithDetail("opcode", op).WithMessage("missing distance byte")
		}
		distance := int(op/16) + int(src[inPos])*16
		inPos++

		start := len(out) - distance
		if distance == 0 || start < 0 {
			return nil, p3dzerrors.ErrMalformedInstruction.
				WithDetail("offset", opPos).
				WithDetail("opcode", op).
				WithDetail("distance", distance).
				WithDetail("outputLength", len(out))
		}

		outLen := len(out)
		padding := appendBackReference(&out, start, length)

		if d.Trace != nil {
			d.Trace(Instruction{
				Kind:      InstructionBackReference,
				Opcode:    op,
				Length:    length,
				Distance:  distance,
				Padding:   padding,
				InOffset:  opPos,
				OutOffset: outLen,
			})
		}
	}

	return out, nil
}

// appendBackReference appends length bytes taken from out[start:]. Bytes past
// the current end of out are not replicated; the shortfall is filled with
// zeros instead. It returns the number of zero bytes appended.
func appendBackReference(out *[]byte, start, length int) int {
	buf := *out
	end := start + length
	if end > len(buf) {
		end = len(buf)
	}
	available := end - start

	buf = append(buf, buf[start:end]...)
	padding := length - available
	for i := 0; i < padding; i++ {
		buf = append(buf, 0)
	}

	*out = buf
	return padding
}

// readLength decodes a run length. A nonzero base is the length itself. A
// zero base starts at 15, adds 255 per zero continuation byte, and ends with
// a nonzero byte whose value is added.
func readLength(src []byte, inPos *int, base int) (int, error) {
	if base != 0 {
		return base, nil
	}

	length := extendedLengthBase
	for {
		if *inPos >= len(src) {
			return 0, truncated(*inPos, 1, 0).WithMessage("length continuation runs past end of input")
		}
		b := src[*inPos]
		*inPos++
		if b != 0 {
			return length + int(b), nil
		}
		length += extendedLengthStep
	}
}

func truncated(offset, needed, available int) *p3dzerrors.P3DZError {
	return p3dzerrors.ErrTruncatedStream.
		WithDetail("offset", offset).
		WithDetail("needed", needed).
		WithDetail("available", available)
}
