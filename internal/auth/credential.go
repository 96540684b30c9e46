// Package auth implements the per-credential, per-connection
// authenticator state machines of spec §4.5: SCRAM-SHA-1/256, X509,
// PLAIN, GSSAPI, MONGODB-AWS, and default mechanism negotiation.
package auth

// Credential is the immutable description of one set of authentication
// material, per spec §3. It is shared (by value, since it is small and
// immutable) across every connection that authenticates the same
// principal; the single-slot cache attached via NewCache is what gets
// shared across re-authentications for the "same" credential.
type Credential struct {
	Mechanism string // "", "SCRAM-SHA-1", "SCRAM-SHA-256", "MONGODB-X509", "PLAIN", "GSSAPI", "MONGODB-AWS"
	Source    string // database the credential is valid against ("$external" for X509/PLAIN/GSSAPI/AWS)
	Username  string
	Password  string

	// MONGODB-AWS
	AWSSessionToken string

	// GSSAPI mechanism properties (spec §4.5).
	ServiceName          string // default "mongodb"
	ServiceRealm         string
	CanonicalizeHostName bool
	ServiceHostName      string
}

// IsZero reports whether no credential was configured, meaning no
// authenticator should run (spec §4.8: "null credential => no
// authenticator").
func (c Credential) IsZero() bool {
	return c == Credential{}
}
