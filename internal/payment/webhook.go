package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "X-Payment-Signature"

// Sign computes the hex HMAC-SHA256 of a raw webhook payload with the
// shared secret.  The processor signs the exact bytes it sends;
// verification must therefore run over the raw body before any JSON
// decoding.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
// Malformed or unsigned deliveries must be rejected without mutating
// any booking state; the processor will retry.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
