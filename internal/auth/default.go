package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// defaultAuthenticator implements spec §4.5's "Default" mechanism
// negotiation: speculatively attempt SCRAM-SHA-256 in the initial hello
// (the preferred mechanism when the server's supported list is not yet
// known), then fall back to SCRAM-SHA-1 if the handshake reply's
// saslSupportedMechs says the server doesn't support SHA-256.
type defaultAuthenticator struct {
	cred  Credential
	cache *Cache

	inner *scramAuthenticator
}

func (a *defaultAuthenticator) Mechanism() string { return "" }

func (a *defaultAuthenticator) SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool) {
	a.inner = newScramAuthenticator(a.cred, a.cache, scramSHA256)
	return a.inner.SpeculativeAuthenticateDocument(ctx)
}

func (a *defaultAuthenticator) Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error {
	variant := chooseDefaultVariant(info.SaslSupportedMechs)

	if a.inner == nil || a.inner.variant.mechanism != variant.mechanism {
		// Either SpeculativeAuthenticateDocument was never called (no
		// speculative auth attempted for this connection) or the
		// server's supported list disagrees with our speculative guess;
		// either way the speculative reply, if any, is for the wrong
		// mechanism and must be ignored.
		a.inner = newScramAuthenticator(a.cred, a.cache, variant)
		info.SpeculativeAuthenticateReply = nil
	}
	return a.inner.Authenticate(ctx, runner, info)
}

// chooseDefaultVariant picks SCRAM-SHA-256 unless the server's
// saslSupportedMechs explicitly lists SHA-1 and omits SHA-256, per spec
// §4.5/§8's "prefers SCRAM-SHA-256" testable property. An empty or
// absent saslSupportedMechs list (e.g. no user doc found, or the field
// omitted) keeps the SHA-256 default.
func chooseDefaultVariant(supported []string) scramVariant {
	sawSHA256, sawSHA1 := false, false
	for _, m := range supported {
		switch m {
		case "SCRAM-SHA-256":
			sawSHA256 = true
		case "SCRAM-SHA-1":
			sawSHA1 = true
		}
	}
	if !sawSHA256 && sawSHA1 {
		return scramSHA1
	}
	return scramSHA256
}
