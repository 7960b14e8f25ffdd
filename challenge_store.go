package fleetauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix     = "lc"
	challengeRecordVersion = 1
)

// loginChallenge is the short-lived handoff between the credential step and
// the OTP step. It lives only in Redis, keyed by a random id the client
// echoes back, so the client can neither read nor forge its contents.
type loginChallenge struct {
	PrincipalID string
	RememberMe  bool
	ExpiresAt   int64
}

type challengeStore struct {
	redis redis.UniversalClient
}

func newChallengeStore(client redis.UniversalClient) *challengeStore {
	return &challengeStore{redis: client}
}

func (s *challengeStore) key(id string) string {
	return challengeKeyPrefix + ":" + id
}

func (s *challengeStore) Save(ctx context.Context, id string, record *loginChallenge, ttl time.Duration) error {
	encoded, err := encodeLoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return nil
}

func (s *challengeStore) Get(ctx context.Context, id string) (*loginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	record, err := decodeLoginChallenge(data)
	if err != nil {
		return nil, ErrChallengeInvalid
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it still existed. A
// false return on the success path means another request consumed the
// challenge first; the caller treats that as a replay.
func (s *challengeStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return n > 0, nil
}

func encodeLoginChallenge(record *loginChallenge) ([]byte, error) {
	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("challenge principal id length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion)

	var flags byte
	if record.RememberMe {
		flags |= 1
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)

	return buf.Bytes(), nil
}

func decodeLoginChallenge(data []byte) (*loginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion {
		return nil, errors.New("invalid challenge record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &loginChallenge{RememberMe: flags&1 != 0}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	return record, nil
}
