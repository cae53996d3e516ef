package cache

import (
	"context"
	"time"
)

// Key prefixes. Domain-scoped entries live under artha:, generic cached GET
// responses under cache:, and consumed request nonces under artha:nonce:.
const (
	domainKeyPrefix = "artha:"
	pathKeyPrefix   = "cache:"
	nonceKeyPrefix  = "artha:nonce:"
)

// DefaultTTL bounds the lifetime of cached GET responses and aggregate
// summaries.
const DefaultTTL = 300 * time.Second

// Key builds a namespaced domain cache key of the form
// artha:<domain>:<entity>:<qualifierType>:<qualifierValue>.
func Key(domain, entity, qualifierType, qualifierValue string) string {
	return domainKeyPrefix + domain + ":" + entity + ":" + qualifierType + ":" + qualifierValue
}

// PathKey builds the generic key for a cached GET response.
func PathKey(path string) string {
	return pathKeyPrefix + path
}

// NonceKey builds the key that records a consumed request nonce.
func NonceKey(nonce string) string {
	return nonceKeyPrefix + nonce
}

// NamespacePrefixes returns the key prefixes covering every cache entry
// belonging to a domain namespace: its artha:<domain>: entries and the
// generic GET entries under /<domain>.
func NamespacePrefixes(domain string) []string {
	return []string{
		domainKeyPrefix + domain + ":",
		pathKeyPrefix + "/" + domain,
	}
}

// InvalidateNamespace removes every cache entry under the domain's prefixes
// and returns the number of entries removed. It is idempotent: invalidating
// an empty namespace removes nothing and succeeds. Mutating handlers call
// this after a successful write; it is the only mechanism that removes
// entries before TTL expiry.
func InvalidateNamespace(ctx context.Context, store Store, domain string) (int64, error) {
	var total int64
	for _, prefix := range NamespacePrefixes(domain) {
		n, err := store.DeleteByPrefix(ctx, prefix)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
