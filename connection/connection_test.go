package connection

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	mgocore "github.com/ezbuy/mgo-core"
	"github.com/ezbuy/mgo-core/address"
	"github.com/ezbuy/mgo-core/internal/bufferpool"
	"github.com/ezbuy/mgo-core/internal/compression"
	"github.com/ezbuy/mgo-core/internal/wire"
)

// pipeStream is a Stream backed by a net.Pipe half, used to drive
// Connection against a synthetic server goroutine in these tests
// without touching a real socket. Grounded on SPEC_FULL.md §2's "a
// loopback net.Pipe-based fake server for connection-lifecycle tests".
type pipeStream struct {
	conn net.Conn
}

func (p *pipeStream) Open(ctx context.Context) error { return nil }

func (p *pipeStream) Write(ctx context.Context, buffers ...[]byte) error {
	for _, b := range buffers {
		if _, err := p.conn.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipeStream) WriteAsync(ctx context.Context, cb func(err error), buffers ...[]byte) {
	go cb(p.Write(ctx, buffers...))
}

func (p *pipeStream) Read(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *pipeStream) ReadWithExtraTimeout(ctx context.Context, n int, extra time.Duration) ([]byte, error) {
	return p.Read(ctx, n)
}

func (p *pipeStream) ReadAsync(ctx context.Context, n int, cb func([]byte, error)) {
	go func() {
		b, err := p.Read(ctx, n)
		cb(b, err)
	}()
}

func (p *pipeStream) Close() error              { return p.conn.Close() }
func (p *pipeStream) IsClosed() bool            { return false }
func (p *pipeStream) Address() address.Address  { return "test.sock" }

func newTestConnection(t *testing.T, settings Settings) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	settings.Pool = bufferpool.New(nil, nil)
	conn := &Connection{
		serverID: address.ServerID{ClusterID: "c1", Address: "test.sock"},
		connID:   "conn-1",
		stream:   &pipeStream{conn: client},
		settings: settings,
		pool:     settings.Pool,
	}
	require.NoError(t, conn.Open(context.Background()))
	return conn, server
}

// readWireRequest reads one full wire message off server and decodes it
// as OP_MSG, returning the command document.
func readWireRequest(t *testing.T, server net.Conn) (wire.Header, bson.Raw) {
	t.Helper()
	headerBuf := make([]byte, wire.HeaderSize)
	_, err := io.ReadFull(server, headerBuf)
	require.NoError(t, err)
	h, _, ok := wire.ReadHeader(headerBuf)
	require.True(t, ok)

	body := make([]byte, int(h.MessageLength)-wire.HeaderSize)
	_, err = io.ReadFull(server, body)
	require.NoError(t, err)

	opCode := h.OpCode
	if opCode == wire.OpCompressed {
		env, err := wire.DecodeCompressedEnvelope(body)
		require.NoError(t, err)
		comp, ok := compression.ByID(env.CompressorID)
		require.True(t, ok)
		decompressed, err := comp.Decompress(env.CompressedBody, env.UncompressedSize)
		require.NoError(t, err)
		opCode = env.OriginalOpCode
		body = decompressed
	}
	require.Equal(t, wire.OpMsg, opCode)

	msg, err := wire.DecodeMsg(body)
	require.NoError(t, err)
	require.Len(t, msg.Sections, 1)
	return h, bson.Raw(msg.Sections[0].Document)
}

// writeWireReply writes an OP_MSG reply with a single document section.
func writeWireReply(t *testing.T, server net.Conn, responseTo int32, doc bson.D) {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	body, _ := wire.EncodeMsg(nil, wire.Msg{Sections: []wire.Section{{Type: wire.PayloadTypeDocument, Document: raw}}}, 0, 0)
	idx, buf := wire.AppendHeader(nil, 1, responseTo, wire.OpMsg)
	buf = append(buf, body...)
	buf = wire.PatchLength(buf, idx)
	_, err = server.Write(buf)
	require.NoError(t, err)
}

func TestConnectionHandshakeNoAuthNoCompression(t *testing.T) {
	conn, server := newTestConnection(t, Settings{DriverName: "mgo-core-test", DriverVersion: "0.1"})

	done := make(chan error, 1)
	go func() { done <- conn.Initialize(context.Background()) }()

	hello, cmd := readWireRequest(t, server)
	name, _ := cmd.LookupErr("hello")
	assert.NotNil(t, name)
	writeWireReply(t, server, hello.RequestID, bson.D{{Key: "ok", Value: 1}, {Key: "maxWireVersion", Value: int32(21)}})

	require.NoError(t, <-done)
	assert.Equal(t, StateReady, conn.State())
	assert.Equal(t, int32(21), conn.Description().MaxWireVersion)
}

func TestConnectionCompressedRoundTrip(t *testing.T) {
	conn, server := newTestConnection(t, Settings{Compressors: []string{"snappy"}})

	done := make(chan error, 1)
	go func() { done <- conn.Initialize(context.Background()) }()

	hello, cmd := readWireRequest(t, server)
	require.NotNil(t, cmd)
	writeWireReply(t, server, hello.RequestID, bson.D{
		{Key: "ok", Value: 1},
		{Key: "maxWireVersion", Value: int32(21)},
		{Key: "compression", Value: bson.A{"snappy"}},
	})
	require.NoError(t, <-done)
	require.NotNil(t, conn.Description().Compressor)
	assert.Equal(t, "snappy", conn.Description().Compressor.Name())

	type pingRequest struct {
		h   wire.Header
		cmd bson.Raw
	}
	replyCh := make(chan pingRequest, 1)
	go func() {
		h, cmd := readWireRequest(t, server)
		replyCh <- pingRequest{h, cmd}
	}()

	result := make(chan error, 1)
	go func() {
		_, err := conn.RunCommand(context.Background(), "admin", bson.D{{Key: "ping", Value: 1}})
		result <- err
	}()

	got := <-replyCh
	name, _ := got.cmd.LookupErr("ping")
	assert.NotNil(t, name)
	writeWireReply(t, server, got.h.RequestID, bson.D{{Key: "ok", Value: 1.0}})

	require.NoError(t, <-result)
}

func TestConnectionResponseToMismatchPoisonsConnection(t *testing.T) {
	conn, server := newTestConnection(t, Settings{})
	conn.state.Store(int32(StateReady))

	result := make(chan error, 1)
	go func() {
		_, err := conn.RunCommand(context.Background(), "admin", bson.D{{Key: "ping", Value: 1}})
		result <- err
	}()

	h, _ := readWireRequest(t, server)
	writeWireReply(t, server, h.RequestID+1, bson.D{{Key: "ok", Value: 1}})

	err := <-result
	require.Error(t, err)
	assert.True(t, mgocore.IsProtocolError(err))
	assert.True(t, conn.IsClosed())

	_, err = conn.RunCommand(context.Background(), "admin", bson.D{{Key: "ping", Value: 1}})
	var closedErr *mgocore.SocketClosedError
	assert.ErrorAs(t, err, &closedErr)
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	conn, _ := newTestConnection(t, Settings{})
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
}

// readWireWriteBatch reads one full wire message off server and decodes
// it as an OP_MSG carrying a type-0 command section plus a type-1
// sequence section, returning the number of documents in the sequence.
func readWireWriteBatch(t *testing.T, server net.Conn) (wire.Header, int) {
	t.Helper()
	headerBuf := make([]byte, wire.HeaderSize)
	_, err := io.ReadFull(server, headerBuf)
	require.NoError(t, err)
	h, _, ok := wire.ReadHeader(headerBuf)
	require.True(t, ok)

	body := make([]byte, int(h.MessageLength)-wire.HeaderSize)
	_, err = io.ReadFull(server, body)
	require.NoError(t, err)
	require.Equal(t, wire.OpMsg, h.OpCode)

	msg, err := wire.DecodeMsg(body)
	require.NoError(t, err)
	for _, sec := range msg.Sections {
		if sec.Type == wire.PayloadTypeSequence {
			return h, len(sec.Documents)
		}
	}
	t.Fatal("no sequence section found in write batch")
	return h, 0
}

func TestRunWriteBatchSplitsOnMaxWriteBatchSize(t *testing.T) {
	conn, server := newTestConnection(t, Settings{})
	conn.state.Store(int32(StateReady))
	conn.description = Description{MaxMessageSizeBytes: defaultMaxMessageSize, MaxWriteBatchSize: 2}

	docs := make([][]byte, 3)
	for i := range docs {
		raw, err := bson.Marshal(bson.D{{Key: "_id", Value: i}})
		require.NoError(t, err)
		docs[i] = raw
	}

	result := make(chan int, 1)
	go func() {
		_, emitted, err := conn.RunWriteBatch(context.Background(), "db", bson.D{{Key: "insert", Value: "coll"}}, "documents", docs)
		require.NoError(t, err)
		result <- emitted
	}()

	h, docCount := readWireWriteBatch(t, server)
	assert.Equal(t, 2, docCount, "only MaxWriteBatchSize documents should be placed on the wire")
	writeWireReply(t, server, h.RequestID, bson.D{{Key: "ok", Value: 1}})

	emitted := <-result
	assert.Equal(t, 2, emitted, "RunWriteBatch should report how many documents it actually emitted")
}

func TestKillCursorsFireAndForget(t *testing.T) {
	conn, server := newTestConnection(t, Settings{})
	conn.state.Store(int32(StateReady))

	done := make(chan error, 1)
	go func() { done <- conn.KillCursors(context.Background(), []int64{42, 100}) }()

	headerBuf := make([]byte, wire.HeaderSize)
	_, err := io.ReadFull(server, headerBuf)
	require.NoError(t, err)
	h, _, ok := wire.ReadHeader(headerBuf)
	require.True(t, ok)
	assert.Equal(t, wire.OpKillCursors, h.OpCode)

	body := make([]byte, int(h.MessageLength)-wire.HeaderSize)
	_, err = io.ReadFull(server, body)
	require.NoError(t, err)
	cursorIDs, err := wire.DecodeKillCursors(body)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 100}, cursorIDs)

	require.NoError(t, <-done)
}
