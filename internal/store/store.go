// Package store persists conversation state and history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/redis/go-redis/v9"
)

// Common errors for store construction.
var (
	ErrInvalidConfig    = errors.New("invalid store configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Store keeps one state record and one capped history list per conversation.
type Store interface {
	// Load returns (nil, nil) when the conversation has never been saved.
	Load(ctx context.Context, id string) (*conversation.State, error)
	// Save overwrites the stored state; last write wins.
	Save(ctx context.Context, id string, state *conversation.State) error
	// Clear removes both state and history for the conversation.
	Clear(ctx context.Context, id string) error
	// History returns the stored turns, oldest first.
	History(ctx context.Context, id string) ([]conversation.Message, error)
	// AppendHistory adds one turn and trims the list to maxTurns.
	AppendHistory(ctx context.Context, id, role, content string, maxTurns int) error
	// List returns known conversation ids.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// StoreType names a backend.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypePostgres StoreType = "postgres"
)

// StoreOption is a functional option for configuring a store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	db          *sql.DB
}

// WithRedisClient sets the client used by the redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets an expiry on redis keys. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// WithDB sets the database handle used by the postgres store.
func WithDB(db *sql.DB) StoreOption {
	return func(c *storeConfig) { c.db = db }
}

// NewStore creates a Store of the given type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.redisTTL), nil
	case StoreTypePostgres:
		if cfg.db == nil {
			return nil, ErrInvalidConfig
		}
		return NewPostgresStore(cfg.db), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
