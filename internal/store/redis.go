package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix   = "orderdesk:state:"
	historyKeyPrefix = "orderdesk:history:"
)

// RedisStore keeps state as a JSON string and history as a capped list.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed store. A zero ttl keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) (*conversation.State, error) {
	val, err := s.client.Get(ctx, stateKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st conversation.State
	if err := json.Unmarshal(val, &st); err != nil {
		return nil, err
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, stateKeyPrefix+id, s.ttl).Err()
	}
	return &st, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, id string, state *conversation.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKeyPrefix+id, raw, s.ttl).Err()
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	return s.client.Del(ctx, stateKeyPrefix+id, historyKeyPrefix+id).Err()
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, id string) ([]conversation.Message, error) {
	vals, err := s.client.LRange(ctx, historyKeyPrefix+id, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Message, 0, len(vals))
	for _, v := range vals {
		var m conversation.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// AppendHistory implements Store. Push and trim run in one MULTI block.
func (s *RedisStore) AppendHistory(ctx context.Context, id, role, content string, maxTurns int) error {
	if maxTurns <= 0 {
		maxTurns = conversation.DefaultHistoryTurns
	}
	raw, err := json.Marshal(conversation.Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	key := historyKeyPrefix + id
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.LTrim(ctx, key, int64(-maxTurns), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, stateKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, stateKeyPrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
