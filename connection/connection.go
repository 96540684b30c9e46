// Package connection implements the per-connection lifecycle of spec
// §4.6: open -> initialize (handshake + compression negotiation + auth)
// -> command exchange -> close, plus the factory that assembles one
// given a server identity (spec §4.8).
//
// Generalized from the teacher's mongoSocket/newSocket/Query (see
// DESIGN.md): one transport stream, a monotonic request id, a single
// in-flight request at a time. Where the
// teacher dispatches on a Go-interface op type, this package dispatches
// on wire.OpCode, and contexts/typed errors replace os.Error.
package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	mgocore "github.com/ezbuy/mgo-core"
	"github.com/ezbuy/mgo-core/address"
	"github.com/ezbuy/mgo-core/internal/auth"
	"github.com/ezbuy/mgo-core/internal/bufferpool"
	"github.com/ezbuy/mgo-core/internal/compression"
	"github.com/ezbuy/mgo-core/internal/event"
	"github.com/ezbuy/mgo-core/internal/requestid"
	"github.com/ezbuy/mgo-core/internal/stream"
	"github.com/ezbuy/mgo-core/internal/wire"
)

// State is the connection's lifecycle stage, per spec §4.6.
type State int32

const (
	StatePending State = iota
	StateOpen
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Description is the negotiated, immutable-after-initialize shape of a
// connection, per spec §3: what the handshake disclosed.
type Description struct {
	MaxWireVersion      int32
	MaxMessageSizeBytes int32
	MaxWriteBatchSize   int32
	MaxBSONObjectSize   int32
	SessionTimeoutMin   int32
	LogicalSessionOK    bool
	ServerType          string
	ServiceID           *bson.ObjectID // set only in load-balanced mode
	Compressor          compression.Compressor
}

// defaultMaxMessageSize is used until a handshake reply overrides it;
// matches the real driver's fallback when a server omits the field.
const defaultMaxMessageSize = 48 * 1024 * 1024

// Settings configures a Connection, per spec §4.8/§6.
type Settings struct {
	AppName              string
	DriverName           string
	DriverVersion        string
	Compressors          []string // client-preferred order, e.g. ["snappy","zstd","zlib"]
	Credential           auth.Credential
	CredentialCache      *auth.Cache // shared across connections for the same credential
	ServerAPIVersion     string      // e.g. "1"; empty disables the stable API triple
	ServerAPIStrict      bool
	ServerAPIDeprecation bool
	HandshakeTimeout     time.Duration
	CommandTimeout       time.Duration
	Monitor              *event.Monitor
	Pool                 *bufferpool.Pool // shared across every connection, per spec §5
}

// Connection is the per-server wire-protocol session of spec §4.6.
// A single in-flight request at a time: it is not a multiplexer, per
// spec §4.6's concurrency note. The enclosing pool (out of scope) is
// what gates concurrent callers.
type Connection struct {
	serverID   address.ServerID
	connID     string
	generation uint64
	stream     stream.Stream
	settings   Settings
	pool       *bufferpool.Pool

	state atomic.Int32

	mu          sync.Mutex // serializes sendAndReceive on this connection
	description Description

	closeOnce sync.Once
}

// Generation returns the pool-assigned staleness tag, per SPEC_FULL.md
// §4.6a. The core never interprets it.
func (c *Connection) Generation() uint64 { return c.generation }

// ID returns the connection id assigned by the owning pool (or, before
// one is assigned, the empty string).
func (c *Connection) ID() string { return c.connID }

// Address returns the server address this connection talks to.
func (c *Connection) Address() address.Address { return c.serverID.Address }

// Description returns the negotiated handshake description. Valid only
// once State() is StateReady or later.
func (c *Connection) Description() Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() State { return State(c.state.Load()) }

// Opened reports whether the connection has completed Open and is not
// closed (state is StateOpen or StateReady); a closed connection reports
// false even if it was opened before. Matches the "opened" collaborator
// interface of spec §6.
func (c *Connection) Opened() bool {
	s := c.State()
	return s == StateOpen || s == StateReady
}

func (c *Connection) poison(err error) error {
	c.close()
	return err
}

// Open dials the transport and transitions PENDING -> OPEN. It does not
// run the handshake; call Initialize afterward.
func (c *Connection) Open(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StatePending), int32(StatePending)) {
		return &mgocore.SocketOpenError{Address: string(c.serverID.Address), Wrapped: fmt.Errorf("connection: Open called from state %s", c.State())}
	}
	if err := c.stream.Open(ctx); err != nil {
		c.state.Store(int32(StateClosed))
		return &mgocore.SocketOpenError{Address: string(c.serverID.Address), Wrapped: err}
	}
	c.state.Store(int32(StateOpen))
	return nil
}

// Close transitions the connection to CLOSED. Idempotent, per spec §8.
func (c *Connection) Close() error {
	c.close()
	return nil
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		_ = c.stream.Close()
	})
}

// IsClosed reports whether the connection has been closed (or never
// successfully opened).
func (c *Connection) IsClosed() bool { return c.State() == StateClosed }

// writeMessage serializes one outbound request, optionally compressing
// it, and writes it to the stream under c.mu. It returns the request id
// assigned, for matching against the reply.
func (c *Connection) writeMessage(ctx context.Context, opCode wire.OpCode, body []byte, compressible bool) (reqID int32, err error) {
	reqID = requestid.Next()

	idx, buf := wire.AppendHeader(nil, reqID, 0, opCode)
	buf = append(buf, body...)

	compressor := c.description.Compressor
	if compressible && compressor != nil && compressor.ID() != wire.CompressorNoop {
		compressed, cerr := compressor.Compress(body)
		if cerr != nil {
			return reqID, &mgocore.CompressionError{Compressor: compressor.Name(), Wrapped: cerr}
		}
		envIdx, envBuf := wire.AppendHeader(nil, reqID, 0, wire.OpCompressed)
		envBuf = wire.AppendCompressedEnvelope(envBuf, opCode, int32(len(body)), compressor.ID(), compressed)
		envBuf = wire.PatchLength(envBuf, envIdx)
		buf, idx = envBuf, envIdx
	} else {
		buf = wire.PatchLength(buf, idx)
	}

	// Stage the fully-framed message in a pool buffer rather than writing
	// the append-grown slice directly: Write is synchronous, so the
	// buffer can be released the moment it returns, keeping steady-state
	// write-path allocation bounded per spec §4.1.
	staging := c.pool.Acquire(len(buf))
	copy(staging.Bytes(), buf)
	writeErr := c.stream.Write(ctx, staging.Bytes()[:len(buf)])
	staging.Release()
	if writeErr != nil {
		return reqID, &mgocore.SocketIOError{Address: string(c.serverID.Address), ConnectionID: c.connID, Write: true, Timeout: isTimeout(writeErr), Wrapped: writeErr}
	}
	return reqID, nil
}

// readMessage reads one inbound reply: the fixed header, the rest of the
// reply body sized by the header's declared length, and unwraps
// OP_COMPRESSED if present. It returns the (possibly decompressed)
// op-code and body bytes following the header.
func (c *Connection) readMessage(ctx context.Context) (opCode wire.OpCode, requestTo int32, body []byte, err error) {
	headerBytes, err := c.stream.Read(ctx, wire.HeaderSize)
	if err != nil {
		return 0, 0, nil, &mgocore.SocketIOError{Address: string(c.serverID.Address), ConnectionID: c.connID, Timeout: isTimeout(err), Wrapped: err}
	}
	h, _, ok := wire.ReadHeader(headerBytes)
	if !ok {
		return 0, 0, nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: "short message header"})
	}
	if !h.OpCode.Recognized() {
		return 0, 0, nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: fmt.Sprintf("unrecognized op-code %d", h.OpCode)})
	}

	remaining := int(h.MessageLength) - wire.HeaderSize
	if remaining < 0 {
		return 0, 0, nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: "negative message body length"})
	}
	body, err = c.stream.Read(ctx, remaining)
	if err != nil {
		return 0, 0, nil, &mgocore.SocketIOError{Address: string(c.serverID.Address), ConnectionID: c.connID, Timeout: isTimeout(err), Wrapped: err}
	}

	opCode = h.OpCode
	if opCode == wire.OpCompressed {
		env, derr := wire.DecodeCompressedEnvelope(body)
		if derr != nil {
			return 0, 0, nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: derr.Error()})
		}
		if !env.OriginalOpCode.Recognized() || env.OriginalOpCode == wire.OpCompressed {
			return 0, 0, nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: "compressed envelope wraps an unrecognized or nested op-code"})
		}
		comp, ok := compression.ByID(env.CompressorID)
		if !ok {
			return 0, 0, nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: fmt.Sprintf("unknown compressor id %d", env.CompressorID)})
		}
		decompressed, derr := comp.Decompress(env.CompressedBody, env.UncompressedSize)
		if derr != nil {
			return 0, 0, nil, &mgocore.CompressionError{Compressor: comp.Name(), Wrapped: derr}
		}
		opCode = env.OriginalOpCode
		body = decompressed
	}
	return opCode, h.ResponseTo, body, nil
}

// sendAndReceive runs one full request/reply exchange, per spec §4.6:
// serialize (compressed unless noCompress), write, read, match
// responseTo, parse. Only one call runs at a time per connection
// (c.mu), matching "one in-flight request at a time (serial)".
func (c *Connection) sendAndReceive(ctx context.Context, opCode wire.OpCode, body []byte, noCompress bool) (bson.Raw, error) {
	if c.IsClosed() {
		return nil, &mgocore.SocketClosedError{Address: string(c.serverID.Address), ConnectionID: c.connID}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reqID, err := c.writeMessage(ctx, opCode, body, !noCompress)
	if err != nil {
		c.close()
		return nil, err
	}

	replyOpCode, responseTo, replyBody, err := c.readMessage(ctx)
	if err != nil {
		c.close()
		return nil, err
	}
	if responseTo != reqID {
		return nil, c.poison(&mgocore.ProtocolError{
			Address:      string(c.serverID.Address),
			ConnectionID: c.connID,
			Reason:       fmt.Sprintf("responseTo %d does not match request id %d", responseTo, reqID),
		})
	}

	switch replyOpCode {
	case wire.OpMsg:
		msg, merr := wire.DecodeMsg(replyBody)
		if merr != nil {
			return nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: merr.Error()})
		}
		doc := firstDocument(msg)
		if doc == nil {
			return nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: "OP_MSG reply carried no document section"})
		}
		return bson.Raw(doc), nil
	case wire.OpReply:
		reply, rerr := wire.DecodeReply(int32(wire.HeaderSize+len(replyBody)), replyBody)
		if rerr != nil {
			return nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: rerr.Error()})
		}
		return bson.Raw(reply.Document), nil
	default:
		return nil, c.poison(&mgocore.ProtocolError{Address: string(c.serverID.Address), ConnectionID: c.connID, Reason: fmt.Sprintf("unexpected reply op-code %s", replyOpCode)})
	}
}

func firstDocument(m wire.Msg) []byte {
	for _, sec := range m.Sections {
		if sec.Type == wire.PayloadTypeDocument {
			return sec.Document
		}
	}
	return nil
}

// RunCommand implements auth.CommandRunner and is SPEC_FULL.md §4.9's
// command helper: it encodes cmd as a single-document OP_MSG section
// against db and returns the raw reply, translating a non-ok reply into
// a mgocore.CommandError. Authentication traffic is never compressed
// (spec §4.6): runCommand turns compression off for every command name
// event.IsSensitive lists.
func (c *Connection) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	return c.runCommand(ctx, db, cmd, false)
}

func (c *Connection) runCommand(ctx context.Context, db string, cmd bson.D, noCompress bool) (bson.Raw, error) {
	full := append(bson.D{}, cmd...)
	full = append(full, bson.E{Key: "$db", Value: db})
	c.applyServerAPI(&full)

	doc, err := bson.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("connection: marshal command: %w", err)
	}

	commandName := commandNameOf(cmd)
	speculative := hasKey(cmd, "speculativeAuthenticate")
	start := event.CommandStartedEvent{
		CommandName:  commandName,
		DatabaseName: db,
		Command:      event.Redact(toLower(commandName), speculative, doc),
		ConnectionID: c.connID,
		Address:      string(c.serverID.Address),
	}
	finish := event.Emit(c.settings.Monitor, start)

	// Authentication traffic is never compressed (spec §4.6), regardless
	// of what the caller passed: event.IsSensitive already centralizes
	// the exact command-name set the driver must never compress, the
	// same list it redacts from monitoring events.
	noCompress = noCompress || event.IsSensitive(toLower(commandName))

	body, _ := wire.EncodeMsg(nil, wire.Msg{Sections: []wire.Section{{Type: wire.PayloadTypeDocument, Document: doc}}}, 0, 0)
	reply, err := c.sendAndReceive(ctx, wire.OpMsg, body, noCompress)
	if err != nil {
		finish(nil, err)
		return nil, err
	}

	if !commandOK(reply) {
		cmdErr := toCommandError(commandName, reply)
		finish(nil, cmdErr)
		return reply, cmdErr
	}
	finish(event.Redact(toLower(commandName), speculative, []byte(reply)), nil)
	return reply, nil
}

// RunWriteBatch is SPEC_FULL.md §4.9's splittable-payload command
// helper, wiring the handshake's negotiated
// MaxMessageSizeBytes/MaxWriteBatchSize budget (spec §4.3) into
// wire.EncodeMsg's maxMessageSize/maxDocs split (spec §4.2): cmd is
// encoded as a type-0 document section and docs as a type-1 sequence
// section identified by identifier (e.g. "documents" for insert/update/
// delete). It returns the reply together with the number of docs
// actually placed in the sequence section; a caller whose docs were
// only partially emitted resubmits the remainder as a further
// RunWriteBatch call. Batching multiple resubmissions into one logical
// write is the layer above, out of scope per spec §1.
func (c *Connection) RunWriteBatch(ctx context.Context, db string, cmd bson.D, identifier string, docs [][]byte) (reply bson.Raw, emitted int, err error) {
	full := append(bson.D{}, cmd...)
	full = append(full, bson.E{Key: "$db", Value: db})
	c.applyServerAPI(&full)

	doc, err := bson.Marshal(full)
	if err != nil {
		return nil, 0, fmt.Errorf("connection: marshal command: %w", err)
	}

	commandName := commandNameOf(cmd)
	start := event.CommandStartedEvent{
		CommandName:  commandName,
		DatabaseName: db,
		Command:      event.Redact(toLower(commandName), false, doc),
		ConnectionID: c.connID,
		Address:      string(c.serverID.Address),
	}
	finish := event.Emit(c.settings.Monitor, start)

	desc := c.Description()
	body, emitted := wire.EncodeMsg(nil, wire.Msg{Sections: []wire.Section{
		{Type: wire.PayloadTypeDocument, Document: doc},
		{Type: wire.PayloadTypeSequence, Identifier: identifier, Documents: docs},
	}}, int(desc.MaxMessageSizeBytes), int(desc.MaxWriteBatchSize))
	if emitted < 0 {
		emitted = len(docs)
	}

	noCompress := event.IsSensitive(toLower(commandName))
	reply, err = c.sendAndReceive(ctx, wire.OpMsg, body, noCompress)
	if err != nil {
		finish(nil, err)
		return nil, emitted, err
	}

	if !commandOK(reply) {
		cmdErr := toCommandError(commandName, reply)
		finish(nil, cmdErr)
		return reply, emitted, cmdErr
	}
	finish(event.Redact(toLower(commandName), false, []byte(reply)), nil)
	return reply, emitted, nil
}

func hasKey(cmd bson.D, key string) bool {
	for _, e := range cmd {
		if e.Key == key {
			return true
		}
	}
	return false
}

func commandOK(reply bson.Raw) bool {
	v, err := reply.LookupErr("ok")
	if err != nil {
		return false
	}
	switch v.Type {
	case bson.TypeDouble:
		f, _ := v.DoubleOK()
		return f != 0
	case bson.TypeInt32:
		i, _ := v.Int32OK()
		return i != 0
	case bson.TypeBoolean:
		b, _ := v.BooleanOK()
		return b
	default:
		return false
	}
}

func toCommandError(name string, reply bson.Raw) *mgocore.CommandError {
	ce := &mgocore.CommandError{Name: name}
	if v, err := reply.LookupErr("code"); err == nil {
		if i, ok := v.Int32OK(); ok {
			ce.Code = i
		}
	}
	if v, err := reply.LookupErr("errmsg"); err == nil {
		if s, ok := v.StringValueOK(); ok {
			ce.Message = s
		}
	}
	if v, err := reply.LookupErr("errorLabels"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, e := range vals {
				if s, ok := e.StringValueOK(); ok {
					ce.Labels = append(ce.Labels, s)
				}
			}
		}
	}
	return ce
}

func commandNameOf(cmd bson.D) string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0].Key
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// applyServerAPI appends apiVersion/apiStrict/apiDeprecationErrors to
// cmd when c.settings.ServerAPIVersion is set, per SPEC_FULL.md §3.
func (c *Connection) applyServerAPI(cmd *bson.D) {
	if c.settings.ServerAPIVersion == "" {
		return
	}
	*cmd = append(*cmd, bson.E{Key: "apiVersion", Value: c.settings.ServerAPIVersion})
	if c.settings.ServerAPIStrict {
		*cmd = append(*cmd, bson.E{Key: "apiStrict", Value: true})
	}
	if c.settings.ServerAPIDeprecation {
		*cmd = append(*cmd, bson.E{Key: "apiDeprecationErrors", Value: true})
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
