package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by the Redis stores
const DefaultRedisPrefix = "tokenward:"

const (
	rotateMissing  = 0
	rotateConflict = 1
	rotateOK       = 2
)

// rotateScript swaps the current refresh token id only if it matches the
// expected one. Time comes from the caller so all instances share one clock.
//
// KEYS[1] session hash
// ARGV[1] expected rid, ARGV[2] new rid, ARGV[3] now (ms), ARGV[4] extendTo (ms, 0 = keep)
var rotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0}
end
local now = tonumber(ARGV[3])
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
if exp == nil or exp <= now then
  return {0}
end
if redis.call('HGET', KEYS[1], 'rid') ~= ARGV[1] then
  return {1}
end
redis.call('HSET', KEYS[1], 'rid', ARGV[2], 'rotated', ARGV[3])
local ext = tonumber(ARGV[4])
if ext > exp then
  redis.call('HSET', KEYS[1], 'exp', ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ext - now)
end
return {2, redis.call('HGETALL', KEYS[1])}
`)

// revokeScript deletes a session and its subject index entry in one step.
//
// KEYS[1] session hash
// ARGV[1] subject index prefix, ARGV[2] session id
var revokeScript = redis.NewScript(`
local sub = redis.call('HGET', KEYS[1], 'sub')
if not sub then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[1] .. sub, ARGV[2])
return 1
`)

// blacklistAddScript keeps the longest expiry when an id is added twice.
//
// KEYS[1] blacklist key
// ARGV[1] ttl (ms)
var blacklistAddScript = redis.NewScript(`
local ttl = tonumber(ARGV[1])
local cur = redis.call('PTTL', KEYS[1])
if cur >= ttl then
  return 0
end
redis.call('SET', KEYS[1], '1', 'PX', ttl)
return 1
`)

// RedisSessionStore keeps each session in a hash with a native expiry and
// indexes session ids per subject in a set.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	now    Clock
}

var _ ports.SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a new Redis session store
func NewRedisSessionStore(client redis.UniversalClient, prefix string, now Clock) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix, now: clockOrNow(now)}
}

func (s *RedisSessionStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisSessionStore) subjectPrefix() string {
	return s.prefix + "subject:"
}

func (s *RedisSessionStore) subjectKey(subject string) string {
	return s.subjectPrefix() + subject
}

func (s *RedisSessionStore) Create(ctx context.Context, subject, refreshTokenID string, ttl time.Duration, opts core.SessionOptions) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("session ttl must be positive, got %s", ttl)
	}

	now := s.now()
	session := core.Session{
		ID:                    uuid.NewString(),
		Subject:               subject,
		CurrentRefreshTokenID: refreshTokenID,
		CreatedAt:             now,
		LastRotatedAt:         now,
		ExpiresAt:             now.Add(ttl),
		RememberMe:            opts.RememberMe,
		Client:                opts.Client,
	}
	key := s.sessionKey(session.ID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, sessionFields(session))
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.subjectKey(subject), session.ID)
		return nil
	})
	if err != nil {
		return "", unavailable("create session", err)
	}

	return session.ID, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable("get session", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNotFound
	}

	session, err := parseSession(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if !session.Live(s.now()) {
		return nil, core.ErrNotFound
	}
	return session, nil
}

func (s *RedisSessionStore) Rotate(ctx context.Context, sessionID, expectedRefreshTokenID, newRefreshTokenID string, extendTo time.Time) (*core.Session, error) {
	var ext int64
	if !extendTo.IsZero() {
		ext = extendTo.UnixMilli()
	}

	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.sessionKey(sessionID)},
		expectedRefreshTokenID, newRefreshTokenID, s.now().UnixMilli(), ext,
	).Slice()
	if err != nil {
		return nil, unavailable("rotate session", err)
	}
	if len(res) == 0 {
		return nil, unavailable("rotate session", errors.New("empty script reply"))
	}

	status, _ := res[0].(int64)
	switch status {
	case rotateMissing:
		return nil, core.ErrNotFound
	case rotateConflict:
		return nil, core.ErrConflict
	case rotateOK:
	default:
		return nil, unavailable("rotate session", fmt.Errorf("unexpected script status %v", res[0]))
	}

	if len(res) < 2 {
		return nil, unavailable("rotate session", errors.New("missing session in script reply"))
	}
	flat, ok := res[1].([]interface{})
	if !ok {
		return nil, unavailable("rotate session", fmt.Errorf("unexpected script reply %T", res[1]))
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}

	return parseSession(sessionID, fields)
}

func (s *RedisSessionStore) Revoke(ctx context.Context, sessionID string) error {
	deleted, err := revokeScript.Run(ctx, s.client,
		[]string{s.sessionKey(sessionID)},
		s.subjectPrefix(), sessionID,
	).Int()
	if err != nil {
		return unavailable("revoke session", err)
	}
	if deleted == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *RedisSessionStore) ListBySubject(ctx context.Context, subject string) ([]core.Session, error) {
	indexKey := s.subjectKey(subject)
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list sessions", err)
	}

	now := s.now()
	var (
		out      []core.Session
		dangling []interface{}
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			dangling = append(dangling, ids[i])
			continue
		}
		session, err := parseSession(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if session.Live(now) {
			out = append(out, *session)
		}
	}

	// Index entries outlive their hashes, tidy up while we are here
	if len(dangling) > 0 {
		if err := s.client.SRem(ctx, indexKey, dangling...).Err(); err != nil {
			return nil, unavailable("list sessions", err)
		}
	}

	sortByLastRotated(out)
	return out, nil
}

// PurgeExpired drops index entries whose sessions Redis has already expired.
// The session hashes themselves carry a native expiry.
func (s *RedisSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	iter := s.client.Scan(ctx, 0, s.subjectPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		ids, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return purged, unavailable("purge sessions", err)
		}

		var dangling []interface{}
		for _, id := range ids {
			exp, err := s.client.HGet(ctx, s.sessionKey(id), "exp").Int64()
			switch {
			case errors.Is(err, redis.Nil):
				dangling = append(dangling, id)
			case err != nil:
				return purged, unavailable("purge sessions", err)
			case !time.UnixMilli(exp).After(now):
				if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
					return purged, unavailable("purge sessions", err)
				}
				dangling = append(dangling, id)
			}
		}

		if len(dangling) > 0 {
			removed, err := s.client.SRem(ctx, indexKey, dangling...).Result()
			if err != nil {
				return purged, unavailable("purge sessions", err)
			}
			purged += int(removed)
		}
	}
	if err := iter.Err(); err != nil {
		return purged, unavailable("purge sessions", err)
	}
	return purged, nil
}

// RedisBlacklistStore keeps one key per revoked token id, expiring with the token
type RedisBlacklistStore struct {
	client redis.UniversalClient
	prefix string
	now    Clock
}

var _ ports.BlacklistStore = (*RedisBlacklistStore)(nil)

// NewRedisBlacklistStore creates a new Redis blacklist
func NewRedisBlacklistStore(client redis.UniversalClient, prefix string, now Clock) *RedisBlacklistStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBlacklistStore{client: client, prefix: prefix + "blacklist:", now: clockOrNow(now)}
}

// Add marks a token as revoked in Redis until expiresAt
func (s *RedisBlacklistStore) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		// Already unusable, nothing to remember
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	if err := blacklistAddScript.Run(ctx, s.client, []string{s.prefix + tokenID}, ttl.Milliseconds()).Err(); err != nil {
		return unavailable("blacklist token", err)
	}
	return nil
}

// Contains checks if a token is revoked in Redis
func (s *RedisBlacklistStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, unavailable("check blacklist", err)
	}
	return n > 0, nil
}

// PurgeExpired is a no-op, blacklist keys expire natively
func (s *RedisBlacklistStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func sessionFields(s core.Session) map[string]interface{} {
	remember := "0"
	if s.RememberMe {
		remember = "1"
	}
	return map[string]interface{}{
		"sub":         s.Subject,
		"rid":         s.CurrentRefreshTokenID,
		"created":     s.CreatedAt.UnixMilli(),
		"rotated":     s.LastRotatedAt.UnixMilli(),
		"exp":         s.ExpiresAt.UnixMilli(),
		"remember":    remember,
		"ua":          s.Client.UserAgent,
		"ip":          s.Client.IPAddress,
		"platform":    string(s.Client.Platform),
		"device_id":   s.Client.DeviceID,
		"device_name": s.Client.DeviceName,
	}
}

func parseSession(id string, fields map[string]string) (*core.Session, error) {
	millis := func(name string) (time.Time, error) {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("session %s: bad %s field %q", id, name, fields[name])
		}
		return time.UnixMilli(v).UTC(), nil
	}

	created, err := millis("created")
	if err != nil {
		return nil, err
	}
	rotated, err := millis("rotated")
	if err != nil {
		return nil, err
	}
	expires, err := millis("exp")
	if err != nil {
		return nil, err
	}

	return &core.Session{
		ID:                    id,
		Subject:               fields["sub"],
		CurrentRefreshTokenID: fields["rid"],
		CreatedAt:             created,
		LastRotatedAt:         rotated,
		ExpiresAt:             expires,
		RememberMe:            strings.EqualFold(fields["remember"], "1"),
		Client: core.ClientMetadata{
			UserAgent:  fields["ua"],
			IPAddress:  fields["ip"],
			Platform:   core.Platform(fields["platform"]),
			DeviceID:   fields["device_id"],
			DeviceName: fields["device_name"],
		},
	}, nil
}
