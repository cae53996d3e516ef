package signing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// NonceLength is the length in hex characters of a request nonce.
const NonceLength = 32

// DefaultMaxTimestampAge bounds the replay window for signed requests.
// A captured request is only replayable while its timestamp stays within
// this window; afterwards timestamp validation fails independently of the
// signature.
const DefaultMaxTimestampAge = 5 * time.Minute

// GenerateNonce returns 16 bytes from a cryptographically secure random
// source rendered as 32 lowercase hex characters.
func GenerateNonce() (string, error) {
	buf := make([]byte, NonceLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsValidNonceFormat reports whether s is exactly 32 lowercase hex digits.
// Uppercase digits, wrong lengths, and empty input are all rejected.
func IsValidNonceFormat(s string) bool {
	if len(s) != NonceLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsValidTimestamp reports whether ts is a decimal epoch-millisecond value
// that is neither in the future nor older than maxAge. A non-positive maxAge
// falls back to DefaultMaxTimestampAge. Non-numeric or empty input is
// rejected.
func IsValidTimestamp(ts string, maxAge time.Duration) bool {
	if ts == "" {
		return false
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxTimestampAge
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().UnixMilli()
	if millis > now {
		return false
	}
	return now-millis <= maxAge.Milliseconds()
}
