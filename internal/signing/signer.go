package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidInput is returned by Sign when called without fields or a secret.
// This indicates programmer misuse rather than an untrusted-request
// condition, and it is deliberately loud: callers must not swallow it.
var ErrInvalidInput = errors.New("signing: fields and secret are required")

// SignatureLength is the length in hex characters of an HMAC-SHA256 signature.
const SignatureLength = 64

// Sign computes the HMAC-SHA256 signature of the canonical encoding of
// fields, keyed by secret, rendered as 64 lowercase hex characters.
//
// Sign is pure: identical (fields, secret) pairs produce identical output
// across calls and across processes.
func Sign(fields map[string]any, secret string) (string, error) {
	if len(fields) == 0 || secret == "" {
		return "", ErrInvalidInput
	}
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches the expected HMAC of fields under
// secret. The comparison is constant-time via hmac.Equal.
//
// Verify handles untrusted network input, so it is defensive by contract:
// any missing argument, undecodable signature, length mismatch, or internal
// failure yields false rather than an error or a panic.
func Verify(fields map[string]any, signature, secret string) bool {
	if len(fields) == 0 || signature == "" || secret == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expectedHex, err := Sign(fields, secret)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}
