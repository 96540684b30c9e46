package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChooseDefaultVariantPrefersSHA256(t *testing.T) {
	assert.Equal(t, "SCRAM-SHA-256", chooseDefaultVariant([]string{"SCRAM-SHA-1", "SCRAM-SHA-256"}).mechanism)
}

func TestChooseDefaultVariantFallsBackToSHA1(t *testing.T) {
	assert.Equal(t, "SCRAM-SHA-1", chooseDefaultVariant([]string{"SCRAM-SHA-1"}).mechanism)
}

func TestChooseDefaultVariantEmptyListKeepsSHA256(t *testing.T) {
	assert.Equal(t, "SCRAM-SHA-256", chooseDefaultVariant(nil).mechanism)
}

func TestDefaultAuthenticatorSpeculatesSHA256(t *testing.T) {
	a := &defaultAuthenticator{cred: Credential{Username: "u", Password: "p", Source: "admin"}}
	doc, ok := a.SpeculativeAuthenticateDocument(nil)
	assert.True(t, ok)
	assert.Equal(t, "SCRAM-SHA-256", a.inner.variant.mechanism)

	var mechanism string
	for _, e := range doc {
		if e.Key == "mechanism" {
			mechanism = e.Value.(string)
		}
	}
	assert.Equal(t, "SCRAM-SHA-256", mechanism)
}
