/**
 * @description
 * This file implements webhook signature verification. LNbits extensions and
 * reverse proxies sign the webhook body with HMAC-SHA256 over the raw bytes,
 * keyed with the wallet admin key. Different setups encode the digest as hex
 * or base64 and may prefix it with "sha256=", so both forms are accepted.
 */
package lnbitsclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature reports whether signature matches the HMAC-SHA256 of
// body keyed with secret. Comparison is constant-time. An empty signature or
// secret never verifies.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
