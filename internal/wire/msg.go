package wire

import (
	"encoding/binary"
	"fmt"
)

// Section is one OP_MSG section, per spec §4.2: type 0 carries a single
// document, type 1 carries an identified, size-prefixed sequence of
// documents (used for splittable write batches).
type Section struct {
	Type       PayloadType
	Document   []byte   // valid when Type == PayloadTypeDocument
	Identifier string   // valid when Type == PayloadTypeSequence
	Documents  [][]byte // valid when Type == PayloadTypeSequence
}

// Msg is a parsed or to-be-encoded OP_MSG body.
type Msg struct {
	Flags    MsgFlag
	Sections []Section
}

// MoreToCome reports whether the moreToCome bit is set.
func (m Msg) MoreToCome() bool { return m.Flags&FlagMoreToCome != 0 }

// EncodeMsg appends the OP_MSG body (flags + sections, no header) to
// dst, honoring a maxMessageSize/maxDocs split budget for splittable
// write batches: it stops emitting documents from sequence sections once
// adding another would exceed either limit and reports how many
// documents of the sequence section it cut short were emitted (of the
// last one, if several were cut), or -1 if every sequence section was
// emitted whole. A limit <= 0
// disables that particular check. The split boundary is observed only
// between documents, never mid-document, per spec §4.2.
func EncodeMsg(dst []byte, m Msg, maxMessageSize, maxDocs int) (out []byte, emitted int) {
	start := len(dst)
	dst = appendUint32(dst, uint32(m.Flags))

	emitted = -1 // -1 means "no sequence section was split"
	for _, sec := range m.Sections {
		switch sec.Type {
		case PayloadTypeDocument:
			dst = append(dst, byte(PayloadTypeDocument))
			dst = append(dst, sec.Document...)
		case PayloadTypeSequence:
			secStart := len(dst)
			dst = append(dst, byte(PayloadTypeSequence))
			sizeIdx := len(dst)
			dst = appendInt32(dst, 0) // patched below
			dst = appendCString(dst, sec.Identifier)

			count := 0
			for _, doc := range sec.Documents {
				wouldBe := len(dst) + len(doc) - start + HeaderSize
				if maxMessageSize > 0 && wouldBe > maxMessageSize && count > 0 {
					break
				}
				if maxDocs > 0 && count >= maxDocs {
					break
				}
				dst = append(dst, doc...)
				count++
			}
			sectionLen := int32(len(dst) - secStart - 1) // exclude the type byte
			binary.LittleEndian.PutUint32(dst[sizeIdx:sizeIdx+4], uint32(sectionLen))
			if count < len(sec.Documents) {
				emitted = count
			}
		}
	}
	return dst, emitted
}

// DecodeMsg parses an OP_MSG body (the bytes following the 16-byte
// header). It surfaces moreToCome via Msg.MoreToCome() per spec §4.2.
func DecodeMsg(body []byte) (Msg, error) {
	flagsRaw, rest, ok := readUint32(body)
	if !ok {
		return Msg{}, fmt.Errorf("wire: OP_MSG body too short for flags")
	}
	m := Msg{Flags: MsgFlag(flagsRaw)}

	for len(rest) > 0 {
		payloadType := PayloadType(rest[0])
		rest = rest[1:]
		switch payloadType {
		case PayloadTypeDocument:
			doc, r, ok := readDocument(rest)
			if !ok {
				return Msg{}, fmt.Errorf("wire: OP_MSG malformed type-0 section")
			}
			m.Sections = append(m.Sections, Section{Type: PayloadTypeDocument, Document: doc})
			rest = r
		case PayloadTypeSequence:
			size, r, ok := readInt32(rest)
			if !ok || int(size) < 4 || int(size) > len(rest) {
				return Msg{}, fmt.Errorf("wire: OP_MSG malformed type-1 section size")
			}
			seqBody := rest[4:size]
			rest = rest[size:]

			nul := indexByte(seqBody, 0)
			if nul < 0 {
				return Msg{}, fmt.Errorf("wire: OP_MSG type-1 section missing identifier terminator")
			}
			identifier := string(seqBody[:nul])
			docBytes := seqBody[nul+1:]

			var docs [][]byte
			for len(docBytes) > 0 {
				doc, d, ok := readDocument(docBytes)
				if !ok {
					return Msg{}, fmt.Errorf("wire: OP_MSG type-1 section malformed document")
				}
				docs = append(docs, doc)
				docBytes = d
			}
			m.Sections = append(m.Sections, Section{Type: PayloadTypeSequence, Identifier: identifier, Documents: docs})
		default:
			return Msg{}, fmt.Errorf("wire: OP_MSG unknown payload type %d", payloadType)
		}
	}
	return m, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
