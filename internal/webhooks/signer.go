package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix is the scheme prefix carried in the signature header.
const SignaturePrefix = "sha256="

// Sign computes the signature for a delivery payload: HMAC-SHA256 over the
// raw body, hex encoded, with the scheme prefix.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the given header value matches the
// payload under the secret. Constant-time comparison.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
