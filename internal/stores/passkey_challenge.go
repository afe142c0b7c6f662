package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const passkeyChallengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("passkey challenge not found")
	ErrChallengeExpired  = errors.New("passkey challenge expired")
	ErrChallengeBackend  = errors.New("passkey challenge backend unavailable")
)

// PasskeyChallenge is the server half of a WebAuthn ceremony.
type PasskeyChallenge struct {
	UserID    string
	Challenge []byte
	// ExpiresAt is unix milliseconds.
	ExpiresAt int64
}

// Expired reports whether the challenge is unusable at now.
func (c *PasskeyChallenge) Expired(now time.Time) bool {
	return now.UnixMilli() >= c.ExpiresAt
}

// Single-use consume: read, delete, and unindex in one step.
const consumeChallengeScript = `
local data = redis.call("GET", KEYS[1])
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
if not data then
  return false
end
return data
`

var consumeChallengeLua = redis.NewScript(consumeChallengeScript)

// PasskeyChallengeStore keeps challenges in Redis with a TTL plus a sorted
// set keyed by expiry so stale references can be swept.
type PasskeyChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewPasskeyChallengeStore(redisClient redis.UniversalClient, prefix string) *PasskeyChallengeStore {
	if prefix == "" {
		prefix = "cpk"
	}
	return &PasskeyChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *PasskeyChallengeStore) key(ref string) string {
	return s.prefix + ":c:" + ref
}

func (s *PasskeyChallengeStore) indexKey() string {
	return s.prefix + ":idx"
}

// Insert stores record under ref for ttl. ExpiresAt is derived from ttl.
func (s *PasskeyChallengeStore) Insert(ctx context.Context, ref string, record *PasskeyChallenge, ttl time.Duration) error {
	if ref == "" || record == nil {
		return errors.New("passkey challenge requires reference and record")
	}
	if ttl <= 0 {
		return errors.New("passkey challenge ttl must be > 0")
	}
	record.ExpiresAt = s.now().Add(ttl).UnixMilli()

	encoded, err := encodePasskeyChallenge(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(ref), encoded, ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(record.ExpiresAt), Member: ref})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume deletes ref and returns what it held. Whatever happens next, the
// reference can never be consumed again.
func (s *PasskeyChallengeStore) Consume(ctx context.Context, ref string) (*PasskeyChallenge, error) {
	if ref == "" {
		return nil, ErrChallengeNotFound
	}
	res, err := consumeChallengeLua.Run(ctx, s.redis, []string{s.key(ref), s.indexKey()}, ref).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	var data []byte
	switch v := res.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("%w: unexpected script response", ErrChallengeBackend)
	}

	record, err := decodePasskeyChallenge(data)
	if err != nil {
		return nil, err
	}
	if record.Expired(s.now()) {
		return record, ErrChallengeExpired
	}
	return record, nil
}

// Sweep prunes index entries (and any lingering records) that expired
// before now. It returns the number of references removed.
func (s *PasskeyChallengeStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)
	refs, err := s.redis.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(refs))
	members := make([]interface{}, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, s.key(ref))
		members = append(members, ref)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return len(refs), nil
}

// Pending returns the number of indexed references.
func (s *PasskeyChallengeStore) Pending(ctx context.Context) (int64, error) {
	n, err := s.redis.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n, nil
}

func encodePasskeyChallenge(record *PasskeyChallenge) ([]byte, error) {
	if len(record.UserID) > 65535 || len(record.Challenge) > 255 {
		return nil, errors.New("passkey challenge field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(passkeyChallengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.WriteByte(byte(len(record.Challenge)))
	buf.Write(record.Challenge)

	return buf.Bytes(), nil
}

func decodePasskeyChallenge(data []byte) (*PasskeyChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != passkeyChallengeRecordVersion1 {
		return nil, errors.New("invalid passkey challenge version")
	}

	record := &PasskeyChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	record.UserID = string(user)

	challengeLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Challenge = make([]byte, challengeLen)
	if _, err := io.ReadFull(reader, record.Challenge); err != nil {
		return nil, err
	}

	return record, nil
}
