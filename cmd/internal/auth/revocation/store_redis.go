package revocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
//
// Layout:
//   - <prefix>:revoked:<token_id>  hash with entry fields, PEXPIREAT at the
//     token's own expiry so reads never see stale revocations.
//   - <prefix>:revoked:index       zset of token ids scored by expiry (ms),
//     used by PurgeExpired to drop index leftovers in batches.
//
// All multi-step writes go through Lua so they are atomic on the server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("revocation: nil redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "warden"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// claimScript inserts the entry only when the token ID has no live entry.
// Returns 1 when this call created the entry, 0 when it already existed.
var claimScript = redis.NewScript(`
local entry = KEYS[1]
local index = KEYS[2]
if redis.call("EXISTS", entry) == 1 then
  return 0
end
redis.call("HSET", entry,
  "principal_id", ARGV[2],
  "session_id", ARGV[3],
  "reason", ARGV[4],
  "created_ms", ARGV[5],
  "expires_ms", ARGV[6])
redis.call("ZADD", index, ARGV[6], ARGV[1])
redis.call("PEXPIREAT", entry, ARGV[6])
return 1
`)

// purgeScript drops up to ARGV[3] index members whose expiry has passed,
// deleting any leftover entry keys alongside. Returns how many it dropped.
var purgeScript = redis.NewScript(`
local index = KEYS[1]
local prefix = ARGV[1]
local limit = tonumber(ARGV[3])
local expired = redis.call("ZRANGEBYSCORE", index, "-inf", ARGV[2], "LIMIT", 0, limit)
if #expired == 0 then
  return 0
end
for _, id in ipairs(expired) do
  redis.call("DEL", prefix .. id)
  redis.call("ZREM", index, id)
end
return #expired
`)

const purgeBatchSize = 512

func (s *RedisStore) entryKey(tokenID string) string {
	return s.prefix + ":revoked:" + tokenID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":revoked:index"
}

// Revoke records the entry; already-revoked token IDs are a no-op success.
func (s *RedisStore) Revoke(ctx context.Context, e Entry) error {
	const op = "revocation.Revoke"

	if err := validateEntry(e); err != nil {
		return err
	}

	err := claimScript.Run(ctx, s.client,
		[]string{s.entryKey(e.TokenID), s.indexKey()},
		e.TokenID, e.PrincipalID, e.SessionID, e.Reason,
		e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
	).Err()
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// IsRevoked reports whether the token ID has a live entry.
func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const op = "revocation.IsRevoked"

	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return false, fmt.Errorf("revocation: missing token id")
	}

	n, err := s.client.Exists(ctx, s.entryKey(tokenID)).Result()
	if err != nil {
		return false, unavailable(op, err)
	}
	return n > 0, nil
}

// Claim records the entry only if absent; reports whether this call won.
func (s *RedisStore) Claim(ctx context.Context, e Entry) (bool, error) {
	const op = "revocation.Claim"

	if err := validateEntry(e); err != nil {
		return false, err
	}

	n, err := claimScript.Run(ctx, s.client,
		[]string{s.entryKey(e.TokenID), s.indexKey()},
		e.TokenID, e.PrincipalID, e.SessionID, e.Reason,
		e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, unavailable(op, err)
	}
	return n == 1, nil
}

// PurgeExpired drops entries past their expiry in batches until none remain.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "revocation.PurgeExpired"

	total := 0
	for {
		n, err := purgeScript.Run(ctx, s.client,
			[]string{s.indexKey()},
			s.prefix+":revoked:", now.UnixMilli(), purgeBatchSize,
		).Int()
		if err != nil {
			return total, unavailable(op, err)
		}
		total += n
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
