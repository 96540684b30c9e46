package connection

import (
	"context"
	"fmt"
	"runtime"

	"go.mongodb.org/mongo-driver/v2/bson"

	mgocore "github.com/ezbuy/mgo-core"
	"github.com/ezbuy/mgo-core/internal/auth"
	"github.com/ezbuy/mgo-core/internal/compression"
)

// Initialize runs the handshake described by spec §4.6: send "hello"
// with client metadata, optional speculativeAuthenticate and the client
// compressor list; parse the server's description; run the
// authenticator (unless speculative auth already completed it);
// transition OPEN -> READY.
func (c *Connection) Initialize(ctx context.Context) error {
	if c.State() != StateOpen {
		return &mgocore.SocketOpenError{Address: string(c.serverID.Address), Wrapped: fmt.Errorf("connection: Initialize called from state %s", c.State())}
	}

	var authenticator auth.Authenticator
	if !c.settings.Credential.IsZero() {
		a, err := auth.New(c.settings.Credential, c.settings.CredentialCache)
		if err != nil {
			c.close()
			return &mgocore.SecurityError{Mechanism: c.settings.Credential.Mechanism, Wrapped: err}
		}
		authenticator = a
	}

	hello := c.buildHelloCommand(ctx, authenticator)

	reply, err := c.runCommand(ctx, "admin", hello, true)
	if err != nil {
		c.close()
		return err
	}

	desc, saslSupportedMechs := parseHelloReply(reply, c.settings.Compressors)
	c.mu.Lock()
	c.description = desc
	c.mu.Unlock()

	if authenticator != nil {
		var specReply bson.Raw
		if v, err := reply.LookupErr("speculativeAuthenticate"); err == nil {
			if doc, ok := v.DocumentOK(); ok {
				specReply = bson.Raw(doc)
			}
		}
		info := auth.HandshakeInfo{SaslSupportedMechs: saslSupportedMechs, SpeculativeAuthenticateReply: specReply}
		if err := authenticator.Authenticate(ctx, c, info); err != nil {
			c.close()
			if se, ok := err.(*mgocore.SecurityError); ok {
				return se
			}
			return &mgocore.SecurityError{Mechanism: authenticator.Mechanism(), Wrapped: err}
		}
	}

	c.state.Store(int32(StateReady))
	return nil
}

// buildHelloCommand assembles the handshake document of spec §6: hello,
// helloOk, client metadata, the client's compressor name list, and
// (when authenticator supports it) speculativeAuthenticate.
func (c *Connection) buildHelloCommand(ctx context.Context, authenticator auth.Authenticator) bson.D {
	cmd := bson.D{
		{Key: "hello", Value: 1},
		{Key: "helloOk", Value: true},
		{Key: "client", Value: clientMetadata(c.settings)},
	}
	if len(c.settings.Compressors) > 0 {
		cmd = append(cmd, bson.E{Key: "compression", Value: c.settings.Compressors})
	}
	if authenticator != nil {
		if doc, ok := authenticator.SpeculativeAuthenticateDocument(ctx); ok {
			cmd = append(cmd, bson.E{Key: "speculativeAuthenticate", Value: doc})
		}
	}
	return cmd
}

func clientMetadata(s Settings) bson.D {
	driverName := s.DriverName
	if driverName == "" {
		driverName = "mgo-core"
	}
	doc := bson.D{
		{Key: "driver", Value: bson.D{
			{Key: "name", Value: driverName},
			{Key: "version", Value: s.DriverVersion},
		}},
		{Key: "os", Value: bson.D{
			{Key: "type", Value: runtime.GOOS},
			{Key: "architecture", Value: runtime.GOARCH},
		}},
		{Key: "platform", Value: runtime.Version()},
	}
	if s.AppName != "" {
		doc = append(doc, bson.E{Key: "application", Value: bson.D{{Key: "name", Value: s.AppName}}})
	}
	return doc
}

// parseHelloReply extracts the fields of spec §4.6 step 2 from a hello
// reply: negotiated compressor, session/version limits, server type,
// and the raw saslSupportedMechs list handed to the authenticator.
func parseHelloReply(reply bson.Raw, clientCompressors []string) (desc Description, saslSupportedMechs []string) {
	desc.MaxMessageSizeBytes = defaultMaxMessageSize

	if v, err := reply.LookupErr("maxWireVersion"); err == nil {
		desc.MaxWireVersion = int32Of(v)
	}
	if v, err := reply.LookupErr("maxMessageSizeBytes"); err == nil {
		if n := int32Of(v); n > 0 {
			desc.MaxMessageSizeBytes = n
		}
	}
	if v, err := reply.LookupErr("maxWriteBatchSize"); err == nil {
		desc.MaxWriteBatchSize = int32Of(v)
	}
	if v, err := reply.LookupErr("maxBsonObjectSize"); err == nil {
		desc.MaxBSONObjectSize = int32Of(v)
	}
	if v, err := reply.LookupErr("logicalSessionTimeoutMinutes"); err == nil {
		desc.SessionTimeoutMin = int32Of(v)
		desc.LogicalSessionOK = true
	}
	if v, err := reply.LookupErr("msg"); err == nil {
		if s, ok := v.StringValueOK(); ok && s == "isdbgrid" {
			desc.ServerType = "Mongos"
		}
	}
	if v, err := reply.LookupErr("serviceId"); err == nil {
		if oid, ok := v.ObjectIDOK(); ok {
			desc.ServiceID = &oid
		}
	}
	if v, err := reply.LookupErr("saslSupportedMechs"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, e := range vals {
				if s, ok := e.StringValueOK(); ok {
					saslSupportedMechs = append(saslSupportedMechs, s)
				}
			}
		}
	}

	var serverCompressors []string
	if v, err := reply.LookupErr("compression"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, e := range vals {
				if s, ok := e.StringValueOK(); ok {
					serverCompressors = append(serverCompressors, s)
				}
			}
		}
	}
	desc.Compressor = negotiateCompressor(clientCompressors, serverCompressors)
	return desc, saslSupportedMechs
}

func int32Of(v bson.RawValue) int32 {
	switch v.Type {
	case bson.TypeInt32:
		n, _ := v.Int32OK()
		return n
	case bson.TypeInt64:
		n, _ := v.Int64OK()
		return int32(n)
	case bson.TypeDouble:
		f, _ := v.DoubleOK()
		return int32(f)
	default:
		return 0
	}
}

// negotiateCompressor resolves the shared compressor against this
// connection's own hello reply; each connection negotiates
// independently rather than reusing another connection's result, per
// spec §4.2/§4.4.
func negotiateCompressor(clientNames, serverNames []string) compression.Compressor {
	c, ok := compression.Negotiate(clientNames, serverNames)
	if !ok {
		return nil
	}
	return c
}
