package lnbitsclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func signBody(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"payment_hash":"abc","paid":true}`)
	secret := "wallet-admin-key"
	digest := signBody(body, secret)

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{name: "hex digest", signature: hex.EncodeToString(digest), secret: secret, want: true},
		{name: "base64 digest", signature: base64.StdEncoding.EncodeToString(digest), secret: secret, want: true},
		{name: "sha256 prefix", signature: "sha256=" + hex.EncodeToString(digest), secret: secret, want: true},
		{name: "surrounding whitespace", signature: "  " + hex.EncodeToString(digest) + "\n", secret: secret, want: true},
		{name: "wrong secret", signature: hex.EncodeToString(digest), secret: "other-key", want: false},
		{name: "empty signature", signature: "", secret: secret, want: false},
		{name: "empty secret", signature: hex.EncodeToString(digest), secret: "", want: false},
		{name: "garbage signature", signature: "not-a-digest", secret: secret, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyWebhookSignature(body, tt.signature, tt.secret); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestVerifyWebhookSignature_RejectsTamperedDigest(t *testing.T) {
	body := []byte(`{"payment_hash":"abc","paid":true}`)
	secret := "wallet-admin-key"

	digest := signBody(body, secret)
	digest[0] ^= 0xff

	if VerifyWebhookSignature(body, hex.EncodeToString(digest), secret) {
		t.Fatal("a tampered digest must not verify")
	}
}

func TestVerifyWebhookSignature_RejectsTamperedBody(t *testing.T) {
	secret := "wallet-admin-key"
	signature := hex.EncodeToString(signBody([]byte(`{"paid":true}`), secret))

	if VerifyWebhookSignature([]byte(`{"paid":false}`), signature, secret) {
		t.Fatal("a signature for a different body must not verify")
	}
}
