package event

// sensitiveCommands is the centralized list of command names whose
// documents must be redacted before an event is emitted, per spec §4.6
// and design note "centralize the list ... apply a single redaction
// pass". Redaction also applies to hello/isMaster only when it carries
// speculativeAuthenticate, handled by the caller.
var sensitiveCommands = map[string]bool{
	"authenticate":    true,
	"saslstart":       true,
	"saslcontinue":    true,
	"copydbgetnonce":  true,
	"copydbsaslstart": true,
	"copydb":          true,
	"createuser":      true,
	"updateuser":      true,
}

// redactedPlaceholder is what a sensitive command document is replaced
// with in events: an empty BSON document (length 5: int32 length + the
// trailing 0x00).
var redactedPlaceholder = []byte{5, 0, 0, 0, 0}

// IsSensitive reports whether commandName's document must be redacted.
// Matching is case-insensitive at the caller (pass a lower-cased name).
func IsSensitive(commandName string) bool {
	return sensitiveCommands[commandName]
}

// Redact returns doc unchanged unless commandName (or
// helloCarriesSpeculativeAuth) requires redaction, in which case it
// returns a placeholder empty document instead of the real command body.
func Redact(commandName string, helloCarriesSpeculativeAuth bool, doc []byte) []byte {
	if IsSensitive(commandName) || helloCarriesSpeculativeAuth {
		return redactedPlaceholder
	}
	return doc
}
