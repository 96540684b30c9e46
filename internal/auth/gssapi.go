package auth

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// gssapiContext abstracts the underlying GSS context negotiation engine
// (SSPI on Windows, MIT/Heimdal GSSAPI elsewhere). No example in the
// retrieval pack vendors GSS bindings (they require cgo and a system
// library, not a pure-Go module), so this package defines the interface
// the mechanism drives and ships a platform-default that reports
// "unsupported" rather than silently no-op'ing; a build with real GSS
// bindings plugs in its own gssapiContext via WithGSSAPIContextFactory.
type gssapiContext interface {
	// Init produces the next outbound token given the previous inbound
	// token (nil on the first call) and reports whether negotiation is
	// complete.
	Init(inboundToken []byte) (outboundToken []byte, done bool, err error)
	Close()
}

type unsupportedGSSAPIContext struct{}

func (unsupportedGSSAPIContext) Init([]byte) ([]byte, bool, error) {
	return nil, true, fmt.Errorf("auth: GSSAPI requires a platform GSS context provider; none configured")
}
func (unsupportedGSSAPIContext) Close() {}

// GSSAPIContextFactory constructs a gssapiContext for one authentication
// attempt against the given service name/host. Set via
// WithGSSAPIContextFactory to plug in a real GSS implementation.
type GSSAPIContextFactory func(cred Credential, hostname string) (gssapiContext, error)

var gssapiFactory GSSAPIContextFactory = func(cred Credential, hostname string) (gssapiContext, error) {
	return unsupportedGSSAPIContext{}, nil
}

// WithGSSAPIContextFactory overrides the GSS context provider used by
// GSSAPI authenticators created after this call. It is a process-wide
// hook, mirroring how real drivers select a platform GSS backend at
// build/link time rather than per connection.
func WithGSSAPIContextFactory(f GSSAPIContextFactory) {
	gssapiFactory = f
}

type gssapiAuthenticator struct {
	cred Credential
}

func newGSSAPIAuthenticator(cred Credential) *gssapiAuthenticator {
	if cred.ServiceName == "" {
		cred.ServiceName = "mongodb"
	}
	return &gssapiAuthenticator{cred: cred}
}

func (a *gssapiAuthenticator) Mechanism() string { return "GSSAPI" }

// SpeculativeAuthenticateDocument: GSSAPI is multi-round-trip and has no
// single-message speculative form in this core, so it does not
// participate in speculative auth (spec §4.5 only requires mechanisms
// that support it to use it).
func (a *gssapiAuthenticator) SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool) {
	return nil, false
}

func (a *gssapiAuthenticator) hostname(runnerAddr string) string {
	if a.cred.ServiceHostName != "" {
		return a.cred.ServiceHostName
	}
	return runnerAddr
}

func (a *gssapiAuthenticator) Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error {
	gctx, err := gssapiFactory(a.cred, a.cred.ServiceHostName)
	if err != nil {
		return &securityWrap{mechanism: "GSSAPI", err: err}
	}
	defer gctx.Close()

	outbound, done, err := gctx.Init(nil)
	if err != nil {
		return &securityWrap{mechanism: "GSSAPI", err: err}
	}

	reply, err := runCommandCheckOK(ctx, runner, "$external", bson.D{
		{Key: "saslStart", Value: 1},
		{Key: "mechanism", Value: "GSSAPI"},
		{Key: "payload", Value: outbound},
	})
	if err != nil {
		return &securityWrap{mechanism: "GSSAPI", err: err}
	}

	for {
		serverDone, conversationID, payload, perr := parseSaslReply(reply)
		if perr != nil {
			return &securityWrap{mechanism: "GSSAPI", err: perr}
		}
		if serverDone && done {
			return nil
		}

		outbound, done, err = gctx.Init(payload)
		if err != nil {
			return &securityWrap{mechanism: "GSSAPI", err: err}
		}

		reply, err = runCommandCheckOK(ctx, runner, "$external", bson.D{
			{Key: "saslContinue", Value: 1},
			{Key: "conversationId", Value: conversationID},
			{Key: "payload", Value: outbound},
		})
		if err != nil {
			return &securityWrap{mechanism: "GSSAPI", err: err}
		}
	}
}
