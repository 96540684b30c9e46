package wire

import "fmt"

// ReplyHeaderSize is the 20-byte fixed fields of a legacy OP_REPLY body:
// flags (i32), cursor id (i64), starting-from (i32), number-returned
// (i32), per spec §3.
const ReplyHeaderSize = 20

// Reply is a parsed legacy OP_REPLY message.
type Reply struct {
	Flags          int32
	CursorID       int64
	StartingFrom   int32
	NumberReturned int32
	Document       []byte
}

// DecodeReply parses a legacy OP_REPLY body (the bytes following the
// 16-byte header). Per spec §4.2 and §8 it requires
// messageLength >= 36 (16 header + 20 reply fields) and numberReturned
// == 1; either violation is a ProtocolInternal-class failure reported to
// the caller as an error (the caller poisons the connection).
func DecodeReply(messageLength int32, body []byte) (Reply, error) {
	if messageLength < HeaderSize+ReplyHeaderSize {
		return Reply{}, fmt.Errorf("wire: OP_REPLY messageLength %d < %d", messageLength, HeaderSize+ReplyHeaderSize)
	}
	if len(body) < ReplyHeaderSize {
		return Reply{}, fmt.Errorf("wire: OP_REPLY body shorter than fixed fields")
	}
	flags, rest, _ := readInt32(body)
	cursorID, rest, _ := readInt64(rest)
	startingFrom, rest, _ := readInt32(rest)
	numberReturned, rest, _ := readInt32(rest)

	if numberReturned != 1 {
		return Reply{}, fmt.Errorf("wire: OP_REPLY numberReturned %d != 1", numberReturned)
	}

	doc, _, ok := readDocument(rest)
	if !ok {
		return Reply{}, fmt.Errorf("wire: OP_REPLY malformed document")
	}

	return Reply{
		Flags:          flags,
		CursorID:       cursorID,
		StartingFrom:   startingFrom,
		NumberReturned: numberReturned,
		Document:       doc,
	}, nil
}
