package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// plainAuthenticator implements PLAIN, per spec §4.5: a single SASL step
// with "\0user\0password" bytes, UTF-8 encoded.
type plainAuthenticator struct {
	cred Credential
}

func (a *plainAuthenticator) Mechanism() string { return "PLAIN" }

func (a *plainAuthenticator) payload() []byte {
	return []byte("\x00" + a.cred.Username + "\x00" + a.cred.Password)
}

func (a *plainAuthenticator) SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool) {
	return bson.D{
		{Key: "saslStart", Value: 1},
		{Key: "mechanism", Value: "PLAIN"},
		{Key: "payload", Value: a.payload()},
		{Key: "db", Value: a.cred.Source},
	}, true
}

func (a *plainAuthenticator) Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error {
	if info.SpeculativeAuthenticateReply != nil {
		done, _, _, _ := parseSaslReply(info.SpeculativeAuthenticateReply)
		if commandOK(info.SpeculativeAuthenticateReply) && done {
			return nil
		}
	}
	_, err := runCommandCheckOK(ctx, runner, a.cred.Source, bson.D{
		{Key: "saslStart", Value: 1},
		{Key: "mechanism", Value: "PLAIN"},
		{Key: "payload", Value: a.payload()},
	})
	if err != nil {
		return &securityWrap{mechanism: "PLAIN", err: err}
	}
	return nil
}
