package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyHubSignature checks an X-Hub-Signature-256 header ("sha256=<hex>") against the
// HMAC-SHA256 of body keyed with secret.
func VerifyHubSignature(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if secret == "" || !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	return hmac.Equal(got, HubSignature(body, secret))
}

// HubSignature returns the raw HMAC-SHA256 of body.
func HubSignature(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
