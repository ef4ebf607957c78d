package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docqa-ai/internal/apperr"
)

// RedisStore persists sessions in Redis. Every key expires after the idle
// window and is refreshed on each write.
type RedisStore struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed store with the given key TTL.
func NewRedisStore(cli *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &RedisStore{cli: cli, ttl: ttl}
}

// NewRedisStoreFromURL parses redisURL, pings the server and creates a store.
func NewRedisStoreFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	cli := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, apperr.External("redis ping", err)
	}
	return NewRedisStore(cli, ttl), nil
}

const sessionIndexKey = "docqa:sessions"

func sessionKey(id string) string  { return "docqa:session:" + id }
func messagesKey(id string) string { return "docqa:session:" + id + ":messages" }

// GetSession implements Store.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	b, err := s.cli.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.External("redis get session", err)
	}
	return decodeSession(b)
}

// SaveSession implements Store.
func (s *RedisStore) SaveSession(ctx context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), b, s.ttl)
	pipe.Expire(ctx, messagesKey(sess.ID), s.ttl)
	pipe.SAdd(ctx, sessionIndexKey, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.External("redis save session", err)
	}
	return nil
}

// DeleteSession implements Store.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	pipe := s.cli.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID), messagesKey(sessionID))
	pipe.SRem(ctx, sessionIndexKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.External("redis delete session", err)
	}
	return nil
}

// AppendMessage implements Store.
func (s *RedisStore) AppendMessage(ctx context.Context, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	pipe := s.cli.TxPipeline()
	pipe.RPush(ctx, messagesKey(m.SessionID), b)
	pipe.Expire(ctx, messagesKey(m.SessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.External("redis append message", err)
	}
	return nil
}

// Messages implements Store.
func (s *RedisStore) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.cli.LRange(ctx, messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, apperr.External("redis read messages", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ListSessions implements Store. Index entries whose key already expired
// are pruned.
func (s *RedisStore) ListSessions(ctx context.Context) ([]*Session, error) {
	ids, err := s.cli.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, apperr.External("redis list sessions", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			_ = s.cli.SRem(ctx, sessionIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.cli.Close()
}
