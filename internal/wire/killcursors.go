package wire

import "fmt"

// EncodeKillCursors appends an OP_KILL_CURSORS body (the bytes after the
// 16-byte header) to dst: reserved i32 = 0, count i32, then n x i64
// cursor ids, per spec §4.2 and the concrete example in spec §8 (scenario
// 3: cursors [42, 100] encode to
// 00000000 02000000 2a00000000000000 6400000000000000).
func EncodeKillCursors(dst []byte, cursorIDs []int64) []byte {
	dst = appendInt32(dst, 0)
	dst = appendInt32(dst, int32(len(cursorIDs)))
	for _, id := range cursorIDs {
		dst = appendInt64(dst, id)
	}
	return dst
}

// DecodeKillCursors parses an OP_KILL_CURSORS body. No reply is ever sent
// for this op-code (spec §4.7); decoding exists for symmetry/tests and
// for a server-side or proxying use of this core.
func DecodeKillCursors(body []byte) (cursorIDs []int64, err error) {
	_, rest, ok := readInt32(body) // reserved
	if !ok {
		return nil, fmt.Errorf("wire: OP_KILL_CURSORS missing reserved field")
	}
	count, rest, ok := readInt32(rest)
	if !ok {
		return nil, fmt.Errorf("wire: OP_KILL_CURSORS missing count")
	}
	cursorIDs = make([]int64, 0, count)
	for i := int32(0); i < count; i++ {
		var id int64
		id, rest, ok = readInt64(rest)
		if !ok {
			return nil, fmt.Errorf("wire: OP_KILL_CURSORS truncated cursor id list")
		}
		cursorIDs = append(cursorIDs, id)
	}
	return cursorIDs, nil
}
