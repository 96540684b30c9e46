// Package wire implements the byte-exact MongoDB wire protocol framing
// described in spec §3 and §4.2: the 16-byte message header, OP_MSG and
// legacy OP_REPLY/OP_KILL_CURSORS bodies, and the OP_COMPRESSED envelope.
package wire

// OpCode identifies the kind of a wire message, per spec §3.
type OpCode int32

// Recognized op-codes. Anything else must fail the connection when
// received (spec §3).
const (
	OpReply       OpCode = 1
	OpUpdate      OpCode = 2001
	OpInsert      OpCode = 2002
	OpQuery       OpCode = 2004
	OpGetMore     OpCode = 2005
	OpDelete      OpCode = 2006
	OpKillCursors OpCode = 2007
	OpCompressed  OpCode = 2012
	OpMsg         OpCode = 2013
)

func (op OpCode) String() string {
	switch op {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GET_MORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILL_CURSORS"
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	default:
		return "OP_UNKNOWN"
	}
}

// Recognized reports whether op is one the core will act on. All other
// codes must fail the connection per spec §3.
func (op OpCode) Recognized() bool {
	switch op {
	case OpReply, OpMsg, OpCompressed, OpKillCursors:
		return true
	default:
		return false
	}
}

// HeaderSize is the fixed length, in bytes, of the message prologue: per
// spec §3, total length (i32), request id (i32), response-to (i32),
// op-code (i32).
const HeaderSize = 16

// MsgFlag is the bitset carried by OP_MSG, per spec §3.
type MsgFlag uint32

const (
	// FlagChecksumPresent is bit 0; unused by this core (no checksum
	// negotiation is modeled), kept so flag parsing round-trips bit-exact.
	FlagChecksumPresent MsgFlag = 1 << 0
	// FlagMoreToCome is bit 1: the server will send follow-up messages
	// without a new request (exhaust cursors), per spec §3/GLOSSARY.
	FlagMoreToCome MsgFlag = 1 << 1
	// FlagExhaustAllowed is bit 16, set by the client to permit moreToCome.
	FlagExhaustAllowed MsgFlag = 1 << 16
)

// PayloadType identifies an OP_MSG section kind, per spec §4.2.
type PayloadType byte

const (
	// PayloadTypeDocument is a single BSON document (section type 0).
	PayloadTypeDocument PayloadType = 0
	// PayloadTypeSequence is an identified, size-prefixed sequence of
	// documents (section type 1), used for splittable write batches.
	PayloadTypeSequence PayloadType = 1
)
