package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDoc builds a minimal length-prefixed "document": since
// readDocument only trusts the 4-byte length prefix (real BSON
// validation is the external codec's job, out of scope here), any
// length-prefixed blob round-trips identically to a real document.
func buildDoc(body []byte) []byte {
	doc := appendInt32(nil, int32(4+len(body)))
	return append(doc, body...)
}

func TestHeaderRoundTrip(t *testing.T) {
	idx, buf := AppendHeader(nil, 7, 0, OpMsg)
	buf = append(buf, []byte("body")...)
	buf = PatchLength(buf, idx)

	h, rest, ok := ReadHeader(buf)
	require.True(t, ok)
	assert.Equal(t, int32(len(buf)), h.MessageLength)
	assert.Equal(t, int32(7), h.RequestID)
	assert.Equal(t, int32(0), h.ResponseTo)
	assert.Equal(t, OpMsg, h.OpCode)
	assert.Equal(t, "body", string(rest))
}

func TestOpCodeRecognized(t *testing.T) {
	assert.True(t, OpMsg.Recognized())
	assert.True(t, OpReply.Recognized())
	assert.True(t, OpCompressed.Recognized())
	assert.True(t, OpKillCursors.Recognized())
	assert.False(t, OpCode(9999).Recognized())
}

func TestMsgRoundTripSingleDocument(t *testing.T) {
	doc := buildDoc([]byte("ping"))
	m := Msg{Sections: []Section{{Type: PayloadTypeDocument, Document: doc}}}

	encoded, emitted := EncodeMsg(nil, m, 0, 0)
	assert.Equal(t, -1, emitted)

	decoded, err := DecodeMsg(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Sections, 1)
	assert.True(t, bytes.Equal(doc, decoded.Sections[0].Document))
	assert.False(t, decoded.MoreToCome())
}

func TestMsgMoreToCome(t *testing.T) {
	m := Msg{Flags: FlagMoreToCome}
	encoded, _ := EncodeMsg(nil, m, 0, 0)
	decoded, err := DecodeMsg(encoded)
	require.NoError(t, err)
	assert.True(t, decoded.MoreToCome())
}

func TestMsgSequenceSectionRoundTrip(t *testing.T) {
	docs := [][]byte{buildDoc([]byte("a")), buildDoc([]byte("bb")), buildDoc([]byte("ccc"))}
	m := Msg{Sections: []Section{{Type: PayloadTypeSequence, Identifier: "documents", Documents: docs}}}

	encoded, emitted := EncodeMsg(nil, m, 0, 0)
	assert.Equal(t, -1, emitted)

	decoded, err := DecodeMsg(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Sections, 1)
	sec := decoded.Sections[0]
	assert.Equal(t, "documents", sec.Identifier)
	require.Len(t, sec.Documents, 3)
	for i := range docs {
		assert.True(t, bytes.Equal(docs[i], sec.Documents[i]))
	}
}

func TestMsgSequenceSplitsAtDocumentBoundary(t *testing.T) {
	doc := buildDoc(bytes.Repeat([]byte{'x'}, 10)) // fixed size per doc
	var docs [][]byte
	for i := 0; i < 5; i++ {
		docs = append(docs, doc)
	}
	m := Msg{Sections: []Section{{Type: PayloadTypeSequence, Identifier: "documents", Documents: docs}}}

	// budget for header + flags + type byte + size + id cstring + 2 docs only
	budget := HeaderSize + 4 + 1 + 4 + len("documents") + 1 + 2*len(doc)
	encoded, emitted := EncodeMsg(nil, m, budget, 0)
	assert.Equal(t, 2, emitted)

	decoded, err := DecodeMsg(encoded)
	require.NoError(t, err)
	assert.Len(t, decoded.Sections[0].Documents, 2)
}

func TestMsgSequenceSplitsAtMaxDocs(t *testing.T) {
	doc := buildDoc([]byte("x"))
	docs := [][]byte{doc, doc, doc, doc}
	m := Msg{Sections: []Section{{Type: PayloadTypeSequence, Identifier: "documents", Documents: docs}}}

	encoded, emitted := EncodeMsg(nil, m, 0, 2)
	assert.Equal(t, 2, emitted)
	decoded, err := DecodeMsg(encoded)
	require.NoError(t, err)
	assert.Len(t, decoded.Sections[0].Documents, 2)
}

func TestReplyRequiresNumberReturnedOne(t *testing.T) {
	var body []byte
	body = appendInt32(body, 0)   // flags
	body = appendInt64(body, 0)   // cursor id
	body = appendInt32(body, 0)   // starting from
	body = appendInt32(body, 2)   // numberReturned = 2, invalid
	body = append(body, buildDoc([]byte("x"))...)

	_, err := DecodeReply(int32(HeaderSize+len(body)), body)
	assert.Error(t, err)
}

func TestReplyMessageLengthTooSmall(t *testing.T) {
	var body []byte
	body = appendInt32(body, 0)
	body = appendInt64(body, 0)
	body = appendInt32(body, 0)
	body = appendInt32(body, 1)
	body = append(body, buildDoc([]byte("x"))...)

	_, err := DecodeReply(35, body) // < 36
	assert.Error(t, err)
}

func TestReplyRoundTrip(t *testing.T) {
	doc := buildDoc([]byte("ok"))
	var body []byte
	body = appendInt32(body, 0)
	body = appendInt64(body, 42)
	body = appendInt32(body, 0)
	body = appendInt32(body, 1)
	body = append(body, doc...)

	reply, err := DecodeReply(int32(HeaderSize+len(body)), body)
	require.NoError(t, err)
	assert.Equal(t, int64(42), reply.CursorID)
	assert.True(t, bytes.Equal(doc, reply.Document))
}

func TestKillCursorsWireBytes(t *testing.T) {
	// Spec §8 scenario 3: cursors [42, 100].
	got := EncodeKillCursors(nil, []int64{42, 100})
	want := []byte{
		0x00, 0x00, 0x00, 0x00, // reserved
		0x02, 0x00, 0x00, 0x00, // count = 2
		42, 0, 0, 0, 0, 0, 0, 0,
		100, 0, 0, 0, 0, 0, 0, 0,
	}
	assert.Equal(t, want, got)

	ids, err := DecodeKillCursors(got)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 100}, ids)
}

func TestCompressedEnvelopeRoundTrip(t *testing.T) {
	compressed := []byte("not-really-compressed-bytes")
	buf := AppendCompressedEnvelope(nil, OpMsg, 123, CompressorSnappy, compressed)

	env, err := DecodeCompressedEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, OpMsg, env.OriginalOpCode)
	assert.Equal(t, int32(123), env.UncompressedSize)
	assert.Equal(t, CompressorSnappy, env.CompressorID)
	assert.True(t, bytes.Equal(compressed, env.CompressedBody))
}
