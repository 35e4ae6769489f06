package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend persists the state document. Load returns (nil, nil) when nothing
// has been stored yet.
type Backend interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

// FileBackend keeps the state as a JSON file, replaced atomically on save.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.path, err)
	}
	return st, nil
}

func (b *FileBackend) Save(_ context.Context, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".forward_db-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path)
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration
}

// RedisBackend keeps the state as a single JSON value under one key.
type RedisBackend struct {
	rdb *redis.Client
	key string
}

func NewRedisBackend(o RedisOptions) *RedisBackend {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return newRedisBackend(rdb, o.Key)
}

func newRedisBackend(rdb *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = "picorelay:state"
	}
	return &RedisBackend{rdb: rdb, key: key}
}

func (b *RedisBackend) Load(ctx context.Context) (*State, error) {
	val, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", b.key, err)
	}
	st, err := decodeState(val)
	if err != nil {
		return nil, fmt.Errorf("redis %s: %w", b.key, err)
	}
	return st, nil
}

func (b *RedisBackend) Save(ctx context.Context, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := b.rdb.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// MemoryBackend holds the last saved state in memory. SetSaveError makes
// subsequent saves fail, for exercising persistence failures.
type MemoryBackend struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	saveErr error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(_ context.Context) (*State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, nil
	}
	return decodeState(b.data)
}

func (b *MemoryBackend) Save(_ context.Context, st *State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	b.data = data
	b.saves++
	return nil
}

func (b *MemoryBackend) SetSaveError(err error) {
	b.mu.Lock()
	b.saveErr = err
	b.mu.Unlock()
}

// Saves reports how many saves succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Seed stores a raw document, as if a previous process had saved it.
func (b *MemoryBackend) Seed(data []byte) {
	b.mu.Lock()
	b.data = append([]byte(nil), data...)
	b.mu.Unlock()
}
