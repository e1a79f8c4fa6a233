package stores

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

const otpChallengeVersion1 = 1

var (
	ErrOTPChallengeNotFound = errors.New("otp challenge not found")
	ErrOTPChallengeExpired  = errors.New("otp challenge expired")
	ErrOTPChallengeExceeded = errors.New("otp challenge attempts exceeded")
	ErrOTPChallengeBackend  = errors.New("otp challenge backend unavailable")
)

// OTPChallenge tracks one pending login or registration verification. The
// upstream ID is the account API's handle; the local challenge id handed to
// the browser never leaves this process group.
type OTPChallenge struct {
	Identifier string
	UpstreamID string
	ExpiresAt  int64
	Attempts   uint16
}

// OTPChallengeStore persists pending challenges in Redis so any instance
// behind the load balancer can complete a verification another one started.
type OTPChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPChallengeStore(redisClient redis.UniversalClient, prefix string) *OTPChallengeStore {
	if prefix == "" {
		prefix = "agc"
	}
	return &OTPChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *OTPChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *OTPChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeOTPChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPChallengeBackend, err)
	}
	return nil
}

func (s *OTPChallengeStore) Get(ctx context.Context, challengeID string) (*OTPChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOTPChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrOTPChallengeBackend, err)
	}

	record, err := decodeOTPChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrOTPChallengeExpired
	}
	return record, nil
}

func (s *OTPChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under WATCH and deletes the
// challenge once maxAttempts is reached. Returns true when the challenge was
// consumed by exceeding the limit.
func (s *OTPChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrOTPChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeOTPChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrOTPChallengeNotFound
			}
			if errors.Is(err, ErrOTPChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrOTPChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrOTPChallengeNotFound
}

func encodeOTPChallenge(record *OTPChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(otpChallengeVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Identifier) > 65535 || len(record.UpstreamID) > 65535 {
		return nil, errors.New("otp challenge field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Identifier))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Identifier)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UpstreamID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UpstreamID)

	return buf.Bytes(), nil
}

func decodeOTPChallenge(data []byte) (*OTPChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpChallengeVersion1 {
		return nil, errors.New("invalid otp challenge version")
	}

	record := &OTPChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var identLen uint16
	if err := binary.Read(reader, binary.BigEndian, &identLen); err != nil {
		return nil, err
	}
	ident := make([]byte, identLen)
	if _, err := io.ReadFull(reader, ident); err != nil {
		return nil, err
	}
	record.Identifier = string(ident)

	var upstreamLen uint16
	if err := binary.Read(reader, binary.BigEndian, &upstreamLen); err != nil {
		return nil, err
	}
	upstream := make([]byte, upstreamLen)
	if _, err := io.ReadFull(reader, upstream); err != nil {
		return nil, err
	}
	record.UpstreamID = string(upstream)

	return record, nil
}
