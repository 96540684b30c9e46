package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// x509Authenticator implements MONGODB-X509, per spec §4.5: a single
// `authenticate` command on $external, with the client certificate
// subject as `user` (optional if the server can derive it, e.g. when TLS
// mutual auth already pinned the peer certificate).
type x509Authenticator struct {
	cred Credential
}

func (a *x509Authenticator) Mechanism() string { return "MONGODB-X509" }

func (a *x509Authenticator) SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool) {
	doc := bson.D{{Key: "authenticate", Value: 1}, {Key: "mechanism", Value: "MONGODB-X509"}}
	if a.cred.Username != "" {
		doc = append(doc, bson.E{Key: "user", Value: a.cred.Username})
	}
	return doc, true
}

func (a *x509Authenticator) Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error {
	if info.SpeculativeAuthenticateReply != nil && commandOK(info.SpeculativeAuthenticateReply) {
		return nil
	}
	cmd := bson.D{{Key: "authenticate", Value: 1}, {Key: "mechanism", Value: "MONGODB-X509"}}
	if a.cred.Username != "" {
		cmd = append(cmd, bson.E{Key: "user", Value: a.cred.Username})
	}
	_, err := runCommandCheckOK(ctx, runner, "$external", cmd)
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-X509", err: err}
	}
	return nil
}
