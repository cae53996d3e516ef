package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Deriver derives per-principal signing secrets from a deployment-wide base
// secret. The base secret is injected at construction so rotation and
// multi-tenant deployments stay explicit instead of flowing through a
// process-wide singleton.
//
// Compromise of one principal's derived secret does not expose any other
// principal's; rotating the base secret invalidates all derived secrets
// uniformly.
type Deriver struct {
	base []byte
}

// NewDeriver creates a Deriver bound to the given base secret.
func NewDeriver(baseSecret string) *Deriver {
	return &Deriver{base: []byte(baseSecret)}
}

// Derive returns the signing secret for a principal as 64 lowercase hex
// characters. The same principal always maps to the same secret under a
// given base secret.
func (d *Deriver) Derive(principalID string) string {
	mac := hmac.New(sha256.New, d.base)
	mac.Write([]byte(principalID))
	return hex.EncodeToString(mac.Sum(nil))
}
