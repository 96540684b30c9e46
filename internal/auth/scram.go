package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/xdg-go/scram"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ezbuy/mgo-core/internal/auth/internal/scramutil"
)

// scramVariant parameterizes the two SCRAM mechanisms spec §4.5 names.
// The conversation itself (client/server-first/final message framing,
// proof and signature computation) is driven entirely by
// github.com/xdg-go/scram, the same library the real mongo-go-driver
// depends on for this mechanism; only the hash generator, the minimum
// iteration count, and whether SASLprep applies to the password differ
// between the two.
type scramVariant struct {
	mechanism     string
	hashGenerator scram.HashGeneratorFcn
	minIterations int
	saslPrep      bool
}

var (
	scramSHA1   = scramVariant{mechanism: "SCRAM-SHA-1", hashGenerator: scram.SHA1, minIterations: 4096, saslPrep: false}
	scramSHA256 = scramVariant{mechanism: "SCRAM-SHA-256", hashGenerator: scram.SHA256, minIterations: 4096, saslPrep: true}
)

type scramAuthenticator struct {
	cred    Credential
	cache   *Cache
	variant scramVariant

	client *scram.Client
	conv   *scram.ClientConversation
}

func newScramAuthenticator(cred Credential, cache *Cache, variant scramVariant) *scramAuthenticator {
	return &scramAuthenticator{cred: cred, cache: cache, variant: variant}
}

func (a *scramAuthenticator) Mechanism() string { return a.variant.mechanism }

// scramClient builds (or, per spec §3/§9, reuses from the single-slot
// credential cache) the scram.Client driving this mechanism, so the
// password-preparation step (legacy MD5 "user:mongo:pass" hashing for
// SHA-1, SASLprep normalization for SHA-256) is paid at most once per
// (username, password, mechanism) tuple across re-authentications of
// the same Credential. The salted-password derivation itself happens
// inside scram.ClientConversation, once per conversation; the vendored
// library does not expose a hook to persist it across conversations
// (see DESIGN.md), so the cache sits one layer up, at the prepared
// Client.
func (a *scramAuthenticator) scramClient() (*scram.Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	key := clientCacheKey{username: a.cred.Username, password: a.cred.Password, mechanism: a.variant.mechanism}
	if a.cache != nil {
		if cached, ok := a.cache.getClient(key); ok {
			a.client = cached
			return cached, nil
		}
	}

	password, err := a.preparedPassword()
	if err != nil {
		return nil, err
	}
	client, err := a.variant.hashGenerator.NewClientUnprepped(a.cred.Username, password, "")
	if err != nil {
		return nil, fmt.Errorf("scram: %w", err)
	}
	client = client.WithMinIterations(a.variant.minIterations)

	a.client = client
	if a.cache != nil {
		a.cache.putClient(key, client)
	}
	return client, nil
}

// startConversation begins a fresh SCRAM conversation and produces the
// client-first message, per spec §4.5. It runs once per authentication
// attempt, whether that attempt starts from
// SpeculativeAuthenticateDocument or from a fresh saslStart inside
// Authenticate.
func (a *scramAuthenticator) startConversation() (string, error) {
	client, err := a.scramClient()
	if err != nil {
		return "", err
	}
	conv := client.NewConversation()
	firstMsg, err := conv.Step("")
	if err != nil {
		return "", fmt.Errorf("scram: %w", err)
	}
	a.conv = conv
	return firstMsg, nil
}

// SpeculativeAuthenticateDocument builds the first SASL step as a
// speculativeAuthenticate sub-document, per spec §4.5.
func (a *scramAuthenticator) SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool) {
	firstMsg, err := a.startConversation()
	if err != nil {
		return nil, false
	}
	return bson.D{
		{Key: "saslStart", Value: 1},
		{Key: "mechanism", Value: a.variant.mechanism},
		{Key: "payload", Value: []byte(firstMsg)},
		{Key: "db", Value: a.cred.Source},
	}, true
}

// Authenticate runs saslStart/saslContinue to completion, per spec
// §4.5/§4.6. If info.SpeculativeAuthenticateReply is a completed
// conversation for our own mechanism (a.conv already holds the
// in-flight conversation from SpeculativeAuthenticateDocument), it
// finishes the exchange from that reply instead of sending a fresh
// saslStart.
func (a *scramAuthenticator) Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error {
	var reply bson.Raw
	var err error

	if info.SpeculativeAuthenticateReply != nil && a.conv != nil {
		reply = info.SpeculativeAuthenticateReply
	} else {
		firstMsg, ferr := a.startConversation()
		if ferr != nil {
			return &securityWrap{mechanism: a.variant.mechanism, err: ferr}
		}
		reply, err = runCommandCheckOK(ctx, runner, a.cred.Source, bson.D{
			{Key: "saslStart", Value: 1},
			{Key: "mechanism", Value: a.variant.mechanism},
			{Key: "payload", Value: []byte(firstMsg)},
		})
		if err != nil {
			return &securityWrap{mechanism: a.variant.mechanism, err: err}
		}
	}

	for {
		done, conversationID, payload, perr := parseSaslReply(reply)
		if perr != nil {
			return &securityWrap{mechanism: a.variant.mechanism, err: perr}
		}

		clientReply, err := a.conv.Step(string(payload))
		if err != nil {
			return &securityWrap{mechanism: a.variant.mechanism, err: fmt.Errorf("scram: %w", err)}
		}

		if a.conv.Done() {
			if !a.conv.Valid() {
				return &securityWrap{mechanism: a.variant.mechanism, err: fmt.Errorf("scram: server signature verification failed")}
			}
			if !done {
				return &securityWrap{mechanism: a.variant.mechanism, err: fmt.Errorf("server did not finish SASL conversation after client completed it")}
			}
			return nil
		}
		if done {
			// The server considers the conversation finished before the
			// client has had a chance to verify the server's signature;
			// trusting that would skip the one check that authenticates
			// the server to the client.
			return &securityWrap{mechanism: a.variant.mechanism, err: fmt.Errorf("server finished SASL conversation before client verified its signature")}
		}

		reply, err = runCommandCheckOK(ctx, runner, a.cred.Source, bson.D{
			{Key: "saslContinue", Value: 1},
			{Key: "conversationId", Value: conversationID},
			{Key: "payload", Value: []byte(clientReply)},
		})
		if err != nil {
			return &securityWrap{mechanism: a.variant.mechanism, err: err}
		}
	}
}

func parseSaslReply(reply bson.Raw) (done bool, conversationID int32, payload []byte, err error) {
	if v, e := reply.LookupErr("done"); e == nil {
		done, _ = v.BooleanOK()
	}
	if v, e := reply.LookupErr("conversationId"); e == nil {
		conversationID, _ = v.Int32OK()
	}
	if v, e := reply.LookupErr("payload"); e == nil {
		_, payload, _ = v.BinaryOK()
	}
	return done, conversationID, payload, nil
}

// preparedPassword returns the password material actually handed to
// scram.Client: SHA-1 uses the legacy "mongo hashed password" (hex
// md5("user:mongo:pass"), per MONGODB-CR history, preserved for
// SCRAM-SHA-1 compatibility and grounded on vlean-mgo's saslNewScram);
// SHA-256 SASLprep-normalizes the raw password, per spec §4.5. Both
// paths go through HashGeneratorFcn.NewClientUnprepped so the library
// does not run its own (different) SASLprep pass on top of this one.
func (a *scramAuthenticator) preparedPassword() (string, error) {
	if !a.variant.saslPrep {
		sum := md5.Sum([]byte(a.cred.Username + ":mongo:" + a.cred.Password))
		return hex.EncodeToString(sum[:]), nil
	}
	return scramutil.SASLPrep(a.cred.Password)
}

type securityWrap struct {
	mechanism string
	err       error
}

func (e *securityWrap) Error() string { return fmt.Sprintf("%s: %v", e.mechanism, e.err) }
func (e *securityWrap) Unwrap() error { return e.err }
