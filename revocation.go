package fleetauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "blk"

// revocationRegistry is the shared token blacklist. JWTs are stateless by
// construction, so a logged-out or compromised token stays cryptographically
// valid until expiry; this registry is what makes revocation meaningful
// before then. It lives in Redis so every instance sees the same set.
type revocationRegistry struct {
	redis redis.UniversalClient
}

func newRevocationRegistry(client redis.UniversalClient) *revocationRegistry {
	return &revocationRegistry{redis: client}
}

// tokenKey hashes the token so the registry never stores usable token
// material and keys stay fixed-size.
func (r *revocationRegistry) tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revocationKeyPrefix + ":" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Revoke inserts the token for at least ttl. Revoking an already revoked
// token extends its entry; it is never an error.
func (r *revocationRegistry) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.redis.Set(ctx, r.tokenKey(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether the token is blacklisted. A revoked token must
// never be accepted regardless of its own expiry.
func (r *revocationRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
