package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// awsCredentials is the resolved AWS credential material, per spec
// §4.5a precedence: explicit > environment > container metadata >
// instance metadata.
type awsCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (c awsCredentials) empty() bool { return c.AccessKeyID == "" || c.SecretAccessKey == "" }

// resolveAWSCredentials implements the precedence of spec §4.5a. The
// container/instance metadata steps go through metadataFetcher rather
// than an HTTP client baked in here, and run only when a fetcher is
// supplied. No fetcher implementation ships in this package:
// newAWSAuthenticator leaves it nil, so an authenticator built by New
// consults explicit and environment credentials only and never queries
// container or instance metadata.
type metadataFetcher interface {
	ECSCredentials(ctx context.Context, relativeURI string) (awsCredentials, error)
	EC2Credentials(ctx context.Context) (awsCredentials, error)
}

func resolveAWSCredentials(ctx context.Context, explicit awsCredentials, fetch metadataFetcher) (awsCredentials, error) {
	if !explicit.empty() {
		return explicit, nil
	}

	envCreds := awsCredentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	if !envCreds.empty() {
		return envCreds, nil
	}

	if relative := os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI"); relative != "" && fetch != nil {
		creds, err := fetch.ECSCredentials(ctx, relative)
		if err != nil {
			return awsCredentials{}, fmt.Errorf("auth: ECS container credentials: %w", err)
		}
		return creds, nil
	}

	if fetch != nil {
		creds, err := fetch.EC2Credentials(ctx)
		if err != nil {
			return awsCredentials{}, fmt.Errorf("auth: EC2 instance metadata credentials: %w", err)
		}
		return creds, nil
	}

	return awsCredentials{}, fmt.Errorf("auth: no AWS credentials found (explicit, environment, or metadata)")
}

// awsAuthenticator implements MONGODB-AWS, per spec §4.5: a client
// nonce plus a signed sts:GetCallerIdentity request carried to the
// server so it can verify the caller's identity without the driver ever
// handing over long-lived secrets.
type awsAuthenticator struct {
	cred    Credential
	fetcher metadataFetcher
}

func newAWSAuthenticator(cred Credential) *awsAuthenticator {
	return &awsAuthenticator{cred: cred, fetcher: nil}
}

func (a *awsAuthenticator) Mechanism() string { return "MONGODB-AWS" }

// SpeculativeAuthenticateDocument: the AWS exchange depends on a server
// nonce handed back only in the saslStart reply, so there is no
// client-only message to speculate with.
func (a *awsAuthenticator) SpeculativeAuthenticateDocument(ctx context.Context) (bson.D, bool) {
	return nil, false
}

func (a *awsAuthenticator) Authenticate(ctx context.Context, runner CommandRunner, info HandshakeInfo) error {
	clientNonce := make([]byte, 32)
	if _, err := rand.Read(clientNonce); err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}

	startPayload, err := bson.Marshal(bson.D{{Key: "r", Value: clientNonce}, {Key: "p", Value: int32('n')}})
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}

	reply, err := runCommandCheckOK(ctx, runner, "$external", bson.D{
		{Key: "saslStart", Value: 1},
		{Key: "mechanism", Value: "MONGODB-AWS"},
		{Key: "payload", Value: []byte(startPayload)},
	})
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}

	done, conversationID, payload, err := parseSaslReply(reply)
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}
	if done {
		return &securityWrap{mechanism: "MONGODB-AWS", err: fmt.Errorf("server finished conversation before client")}
	}

	var serverFirst struct {
		ServerNonce []byte `bson:"s"`
		Host        string `bson:"h"`
	}
	if err := bson.Unmarshal(payload, &serverFirst); err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: fmt.Errorf("malformed server-first message: %w", err)}
	}
	if !strings.HasPrefix(string(serverFirst.ServerNonce), string(clientNonce)) {
		return &securityWrap{mechanism: "MONGODB-AWS", err: fmt.Errorf("server nonce does not extend client nonce")}
	}
	if serverFirst.Host == "" {
		serverFirst.Host = "sts.amazonaws.com"
	}

	creds, err := resolveAWSCredentials(ctx, awsCredentials{
		AccessKeyID:     a.cred.Username,
		SecretAccessKey: a.cred.Password,
		SessionToken:    a.cred.AWSSessionToken,
	}, a.fetcher)
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}

	authHeader, amzDate, err := signGetCallerIdentity(creds, serverFirst.Host, serverFirst.ServerNonce)
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}

	finalDoc := bson.D{{Key: "a", Value: authHeader}, {Key: "d", Value: amzDate}}
	if creds.SessionToken != "" {
		finalDoc = append(finalDoc, bson.E{Key: "t", Value: creds.SessionToken})
	}
	finalPayload, err := bson.Marshal(finalDoc)
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}

	reply, err = runCommandCheckOK(ctx, runner, "$external", bson.D{
		{Key: "saslContinue", Value: 1},
		{Key: "conversationId", Value: conversationID},
		{Key: "payload", Value: []byte(finalPayload)},
	})
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}
	done, _, _, err = parseSaslReply(reply)
	if err != nil {
		return &securityWrap{mechanism: "MONGODB-AWS", err: err}
	}
	if !done {
		return &securityWrap{mechanism: "MONGODB-AWS", err: fmt.Errorf("server did not finish conversation")}
	}
	return nil
}

const awsRequestTarget = "/"
const awsStsBody = "Action=GetCallerIdentity&Version=2011-06-15"

// signGetCallerIdentity builds the Authorization header value for a
// SigV4-signed sts:GetCallerIdentity POST, and the X-Amz-Date header it
// was computed against. The server nonce is carried in the
// X-MongoDB-Server-Nonce header, and the absence of channel binding in
// X-MongoDB-GS2-CB-Flag, both included in the signature per the
// MONGODB-AWS handshake.
func signGetCallerIdentity(creds awsCredentials, host string, serverNonce []byte) (authHeader, amzDate string, err error) {
	now := time.Now().UTC()
	amzDate = now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	region := regionFromSTSHost(host)

	headers := map[string]string{
		"content-length":         fmt.Sprintf("%d", len(awsStsBody)),
		"content-type":           "application/x-www-form-urlencoded",
		"host":                   host,
		"x-amz-date":             amzDate,
		"x-mongodb-gs2-cb-flag":  "n",
		"x-mongodb-server-nonce": base64.StdEncoding.EncodeToString(serverNonce),
	}
	if creds.SessionToken != "" {
		headers["x-amz-security-token"] = creds.SessionToken
	}

	signedHeaderNames, canonicalHeaders := canonicalizeHeaders(headers)
	payloadHash := sha256Hex([]byte(awsStsBody))

	canonicalRequest := strings.Join([]string{
		"POST",
		awsRequestTarget,
		"", // no query string
		canonicalHeaders,
		signedHeaderNames,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/sts/aws4_request", dateStamp, region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(creds.SecretAccessKey, dateStamp, region, "sts")
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	authHeader = fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		creds.AccessKeyID, credentialScope, signedHeaderNames, signature,
	)
	return authHeader, amzDate, nil
}

func regionFromSTSHost(host string) string {
	// host is like "sts.amazonaws.com" (global, region us-east-1) or
	// "sts.<region>.amazonaws.com" for a regional endpoint.
	parts := strings.Split(host, ".")
	if len(parts) >= 4 && parts[0] == "sts" {
		return parts[1]
	}
	return "us-east-1"
}

func canonicalizeHeaders(headers map[string]string) (signedHeaderNames, canonicalHeaders string) {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(headers[n]))
		b.WriteByte('\n')
	}
	return strings.Join(names, ";"), b.String()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func deriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}
