package auth

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// HandshakeInfo is the subset of the server's hello/isMaster reply an
// authenticator needs to pick and drive its mechanism, per spec §4.6.
type HandshakeInfo struct {
	SaslSupportedMechs []string
	SpeculativeAuthenticateReply bson.Raw // nil if absent
}

// Authenticator runs one mechanism's handshake, per spec §4.5. A fresh
// Authenticator is created per (Credential, connection) pair by New, so
// mechanism-specific transient state (nonces, GSSAPI context) never
// leaks across connections.
type Authenticator interface {
	// Mechanism returns the wire mechanism name this authenticator runs.
	Mechanism() string

	// SpeculativeAuthenticateDocument returns the document to embed as
	// speculativeAuthenticate in the initial hello, and true, if this
	// mechanism supports speculative auth; (nil, false) otherwise.
	SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool)

	// Authenticate runs the mechanism to completion. If info's
	// SpeculativeAuthenticateReply is set and the authenticator
	// recognizes it as a successful completion of its own speculative
	// step, Authenticate is a no-op (spec §4.5: "subsequent
	// authenticate() is a no-op").
	Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error
}

// New constructs the Authenticator for cred's mechanism, wired against
// cache for mechanisms that benefit from salted-password memoization
// (SCRAM). An empty cred.Mechanism selects the default-negotiation
// authenticator (spec §4.5 "Default"). cache may be nil for mechanisms
// that don't use one.
func New(cred Credential, cache *Cache) (Authenticator, error) {
	switch cred.Mechanism {
	case "":
		return &defaultAuthenticator{cred: cred, cache: cache}, nil
	case "SCRAM-SHA-1":
		return newScramAuthenticator(cred, cache, scramSHA1), nil
	case "SCRAM-SHA-256":
		return newScramAuthenticator(cred, cache, scramSHA256), nil
	case "MONGODB-X509":
		return &x509Authenticator{cred: cred}, nil
	case "PLAIN":
		return &plainAuthenticator{cred: cred}, nil
	case "GSSAPI":
		return newGSSAPIAuthenticator(cred), nil
	case "MONGODB-AWS":
		return newAWSAuthenticator(cred), nil
	default:
		return nil, fmt.Errorf("auth: unsupported mechanism %q", cred.Mechanism)
	}
}

// runCommandCheckOK runs cmd against db and returns its raw reply,
// translating a non-ok reply into an error so every authenticator
// doesn't repeat this check.
func runCommandCheckOK(ctx context.Context, runner CommandRunner, db string, cmd bson.D) (bson.Raw, error) {
	reply, err := runner.RunCommand(ctx, db, cmd)
	if err != nil {
		return nil, err
	}
	if !commandOK(reply) {
		return reply, fmt.Errorf("server returned error: %s", errMsg(reply))
	}
	return reply, nil
}
