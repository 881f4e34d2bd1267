package store

import (
	"encoding/json"
	"sync"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// Store persists per-user encoding settings. Get returns defaults for
// users who never saved anything.
type Store interface {
	Get(userID string) (Settings, error)
	Put(userID string, s Settings) error
}

// MemoryStore keeps settings in process memory. The default when no Redis
// address is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]Settings)}
}

func (m *MemoryStore) Get(userID string) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return DefaultSettings(), nil
}

func (m *MemoryStore) Put(userID string, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
	return nil
}

// RedisStore persists settings as JSON blobs under one key per user.
type RedisStore struct {
	client *redis.Client
}

const redisKeyPrefix = "ssm:settings:"

func NewRedisStore(addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, errors.Wrap(err, "connect to redis")
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(userID string) (Settings, error) {
	raw, err := r.client.Get(redisKeyPrefix + userID).Result()
	if err == redis.Nil {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, errors.Wrap(err, "load settings")
	}

	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	return s, nil
}

func (r *RedisStore) Put(userID string, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	return errors.Wrap(r.client.Set(redisKeyPrefix+userID, raw, 0).Err(), "save settings")
}
