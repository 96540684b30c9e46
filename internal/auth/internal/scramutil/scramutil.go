// Package scramutil holds the small, protocol-exact string helpers
// SCRAM testing and password preparation need: comma-separated
// attribute-value pair parsing (used by the SCRAM test fixtures that
// play the server side of RFC 5802) and SASLprep normalization (used by
// the real client before handing a password to github.com/xdg-go/scram).
package scramutil

import (
	"fmt"
	"strings"

	"github.com/xdg-go/stringprep"
)

// ParseFields splits a SCRAM message of the form "k1=v1,k2=v2,..." into
// a map keyed by the single-letter attribute name. Values may themselves
// contain "=" (e.g. base64 payloads); only the first "=" in each
// comma-separated field splits key from value.
func ParseFields(msg string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if part == "" {
			continue
		}
		i := strings.IndexByte(part, '=')
		if i < 0 {
			return nil, fmt.Errorf("scramutil: malformed field %q in %q", part, msg)
		}
		fields[part[:i]] = part[i+1:]
	}
	return fields, nil
}

// SASLPrep normalizes a password per the SASLprep profile (RFC 4013),
// required for SCRAM-SHA-256 by spec §4.5. Invalid codepoints fail,
// matching the spec's "invalid codepoints => fail".
func SASLPrep(password string) (string, error) {
	out, err := stringprep.SASLprep.Prepare(password)
	if err != nil {
		return "", fmt.Errorf("scramutil: SASLprep: %w", err)
	}
	return out, nil
}
