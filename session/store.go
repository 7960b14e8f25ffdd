package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no session matches the lookup.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	sessionKeyPrefix = "ds"
	indexKeyPrefix   = "dsu"
)

// Fingerprint hashes a user-agent string into the binding value stored with
// the session and compared on every validated request.
func Fingerprint(userAgent string) [32]byte {
	return sha256.Sum256([]byte(userAgent))
}

// Store reads and writes device sessions in Redis.
type Store struct {
	redis redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

func sessionKey(id string) string      { return sessionKeyPrefix + ":" + id }
func indexKey(principal string) string { return indexKeyPrefix + ":" + principal }

// Create persists the session with the given TTL and registers it in the
// principal's session index. The index carries the same TTL so abandoned
// indexes expire with their sessions.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration) error {
	blob, err := encode(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), blob, ttl)
	pipe.SAdd(ctx, indexKey(sess.PrincipalID), sess.ID)
	pipe.Expire(ctx, indexKey(sess.PrincipalID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess, err := decode(data)
	if err != nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Match finds the session for a principal and fingerprint. An exact
// fingerprint match wins; otherwise the most recently active session is
// returned. The heuristic can mis-associate similar devices, which is why
// callers prefer the session id from the token when one is present.
func (s *Store) Match(ctx context.Context, principalID string, fingerprint [32]byte) (*Session, error) {
	ids, err := s.redis.SMembers(ctx, indexKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var newest *Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Session expired out from under its index entry.
			_, _ = s.redis.SRem(ctx, indexKey(principalID), id).Result()
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.FingerprintHash == fingerprint {
			return sess, nil
		}
		if newest == nil || sess.LastActivityAt > newest.LastActivityAt {
			newest = sess
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

// Touch rewrites the session with an updated last-activity timestamp,
// preserving the remaining TTL. Two requests racing here is tolerated: last
// write wins, and the field is informative only.
func (s *Store) Touch(ctx context.Context, id string, now time.Time) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastActivityAt = now.Unix()

	blob, err := encode(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, sessionKey(id), blob, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes one session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, principalID, id string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, indexKey(principalID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAll removes every session for the principal.
func (s *Store) DeleteAll(ctx context.Context, principalID string) error {
	ids, err := s.redis.SMembers(ctx, indexKey(principalID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
	}
	pipe.Del(ctx, indexKey(principalID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
