package wire

import "fmt"

// CompressedEnvelopeSize is the fixed fields following an OP_COMPRESSED
// header: original op-code (i32), uncompressed size (i32), compressor id
// (u8), per spec §3.
const CompressedEnvelopeSize = 9

// CompressorID identifies a payload compressor by the wire-level id
// assigned in spec §3.
type CompressorID byte

const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZlib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

// CompressedEnvelope is the parsed header of an OP_COMPRESSED body, prior
// to decompression.
type CompressedEnvelope struct {
	OriginalOpCode   OpCode
	UncompressedSize int32
	CompressorID     CompressorID
	CompressedBody   []byte
}

// AppendCompressedEnvelope appends the 9-byte compression header
// (original op-code, uncompressed size, compressor id) followed by the
// already-compressed bytes to dst.
func AppendCompressedEnvelope(dst []byte, originalOpCode OpCode, uncompressedSize int32, compressor CompressorID, compressedBody []byte) []byte {
	dst = appendInt32(dst, int32(originalOpCode))
	dst = appendInt32(dst, uncompressedSize)
	dst = append(dst, byte(compressor))
	return append(dst, compressedBody...)
}

// DecodeCompressedEnvelope parses the 9-byte compression header and
// returns the still-compressed trailing bytes; the caller decompresses
// them and continues framing decode with OriginalOpCode (spec §4.2
// step 2).
func DecodeCompressedEnvelope(body []byte) (CompressedEnvelope, error) {
	if len(body) < CompressedEnvelopeSize {
		return CompressedEnvelope{}, fmt.Errorf("wire: OP_COMPRESSED body shorter than %d bytes", CompressedEnvelopeSize)
	}
	opCode, rest, _ := readInt32(body)
	size, rest, _ := readInt32(rest)
	compressor := CompressorID(rest[0])
	rest = rest[1:]
	return CompressedEnvelope{
		OriginalOpCode:   OpCode(opCode),
		UncompressedSize: size,
		CompressorID:     compressor,
		CompressedBody:   rest,
	}, nil
}
