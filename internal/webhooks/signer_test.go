package webhooks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"member.joined"}`)
	sig := Sign("whsec_abc", payload)

	assert.True(t, strings.HasPrefix(sig, SignaturePrefix))
	assert.Len(t, strings.TrimPrefix(sig, SignaturePrefix), 64)
	assert.True(t, VerifySignature("whsec_abc", payload, sig))
}

func TestVerifySignatureRejects(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	sig := Sign("whsec_abc", payload)

	assert.False(t, VerifySignature("whsec_other", payload, sig))
	assert.False(t, VerifySignature("whsec_abc", []byte(`{"id":"evt_2"}`), sig))
	assert.False(t, VerifySignature("whsec_abc", payload, ""))
	assert.False(t, VerifySignature("whsec_abc", payload, strings.TrimPrefix(sig, SignaturePrefix)))
}

func TestSignIsDeterministic(t *testing.T) {
	payload := []byte("hello")
	assert.Equal(t, Sign("s", payload), Sign("s", payload))
	assert.NotEqual(t, Sign("s", payload), Sign("t", payload))
}
