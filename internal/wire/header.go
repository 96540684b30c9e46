package wire

import "encoding/binary"

// Header is the 16-byte message prologue, little-endian, per spec §3.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

// AppendHeader reserves and writes a 16-byte header at the end of dst,
// returning the new slice and the offset the header starts at (needed
// later to back-patch MessageLength once the body is known). The length
// field is written as 0 and must be patched with PatchLength.
func AppendHeader(dst []byte, requestID, responseTo int32, opCode OpCode) (idx int, out []byte) {
	idx = len(dst)
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(responseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(opCode))
	return idx, append(dst, buf[:]...)
}

// PatchLength back-patches the 4-byte length field at dst[idx:idx+4] with
// the number of bytes in dst from idx to the end, satisfying spec §8's
// "encoded message length equals total bytes emitted" invariant.
func PatchLength(dst []byte, idx int) []byte {
	length := int32(len(dst) - idx)
	binary.LittleEndian.PutUint32(dst[idx:idx+4], uint32(length))
	return dst
}

// ReadHeader parses the 16-byte prologue from the front of src. ok is
// false if src is shorter than HeaderSize.
func ReadHeader(src []byte) (h Header, rest []byte, ok bool) {
	if len(src) < HeaderSize {
		return Header{}, src, false
	}
	h.MessageLength = int32(binary.LittleEndian.Uint32(src[0:4]))
	h.RequestID = int32(binary.LittleEndian.Uint32(src[4:8]))
	h.ResponseTo = int32(binary.LittleEndian.Uint32(src[8:12]))
	h.OpCode = OpCode(int32(binary.LittleEndian.Uint32(src[12:16])))
	return h, src[HeaderSize:], true
}

func appendInt32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendInt64(dst []byte, v int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return append(dst, buf[:]...)
}

func readInt32(src []byte) (int32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return int32(binary.LittleEndian.Uint32(src[:4])), src[4:], true
}

func readUint32(src []byte) (uint32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return binary.LittleEndian.Uint32(src[:4]), src[4:], true
}

func readInt64(src []byte) (int64, []byte, bool) {
	if len(src) < 8 {
		return 0, src, false
	}
	return int64(binary.LittleEndian.Uint64(src[:8])), src[8:], true
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// documentLength reads the 4-byte little-endian length prefix a BSON
// document starts with, without validating the rest of the document
// (BSON validation is the codec's job, out of scope per spec §1).
func documentLength(src []byte) (int32, bool) {
	if len(src) < 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(src[:4])), true
}

// readDocument slices a single length-prefixed BSON document off the
// front of src.
func readDocument(src []byte) (doc []byte, rest []byte, ok bool) {
	l, ok := documentLength(src)
	if !ok || l < 5 || int(l) > len(src) {
		return nil, src, false
	}
	return src[:l], src[l:], true
}
