package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, so several deployments can share a server.
	Prefix string
}

// RedisStore reads straight from redis and applies a transaction's writes in
// a single MULTI/EXEC block on commit. Commit WATCHes every key the
// transaction read and fails with ErrConflict if another writer, such as a
// second replica, changed one of them in the meantime.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    TTLPolicy
}

func NewRedisStore(ctx context.Context, opts RedisOptions, ttl TTLPolicy) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, prefix: opts.Prefix, ttl: ttl}, nil
}

func (s *RedisStore) Begin(ctx context.Context) (Txn, error) {
	return &redisTxn{ctx: ctx, store: s, writes: newWriteSet(), reads: make(map[string]observed)}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.name
}

// observed is what a transaction saw for a key, checked again at commit.
type observed struct {
	value      []byte
	exists     bool
	existsOnly bool
}

type redisTxn struct {
	ctx      context.Context
	store    *RedisStore
	writes   *writeSet
	reads    map[string]observed
	finished bool
}

func (t *redisTxn) observe(key string, o observed) {
	if _, ok := t.reads[key]; !ok {
		t.reads[key] = o
	}
}

func (t *redisTxn) Get(key Key) ([]byte, bool, error) {
	if t.finished {
		return nil, false, ErrTxnFinished
	}
	if v, ok := t.writes.get(key); ok {
		return append([]byte(nil), v...), true, nil
	}
	name := t.store.key(key)
	v, err := t.store.client.Get(t.ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		t.observe(name, observed{})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	t.observe(name, observed{value: v, exists: true})
	return v, true, nil
}

func (t *redisTxn) Has(key Key) (bool, error) {
	if t.finished {
		return false, ErrTxnFinished
	}
	if _, ok := t.writes.get(key); ok {
		return true, nil
	}
	name := t.store.key(key)
	n, err := t.store.client.Exists(t.ctx, name).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	t.observe(name, observed{exists: n > 0, existsOnly: true})
	return n > 0, nil
}

func (t *redisTxn) Set(key Key, value []byte) error {
	if t.finished {
		return ErrTxnFinished
	}
	t.writes.put(key, value)
	return nil
}

func (t *redisTxn) Commit() error {
	if t.finished {
		return ErrTxnFinished
	}
	t.finished = true
	if len(t.writes.order) == 0 {
		return nil
	}
	watched := make([]string, 0, len(t.reads))
	for name := range t.reads {
		watched = append(watched, name)
	}
	err := t.store.client.Watch(t.ctx, func(tx *redis.Tx) error {
		if err := t.verify(tx); err != nil {
			return err
		}
		now := time.Now()
		_, err := tx.TxPipelined(t.ctx, func(pipe redis.Pipeliner) error {
			for _, key := range t.writes.order {
				pipe.Set(t.ctx, t.store.key(key), t.writes.values[key.name], t.store.ttl.TTL(key, now))
			}
			return nil
		})
		return err
	}, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

// verify re-reads the watched keys and fails if any differs from what the
// transaction observed before the WATCH.
func (t *redisTxn) verify(tx *redis.Tx) error {
	for name, seen := range t.reads {
		cur, err := tx.Get(t.ctx, name).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("redis verify %s: %w", name, err)
		}
		if exists != seen.exists {
			return fmt.Errorf("%w: %s", ErrConflict, name)
		}
		if exists && !seen.existsOnly && !bytes.Equal(cur, seen.value) {
			return fmt.Errorf("%w: %s", ErrConflict, name)
		}
	}
	return nil
}

func (t *redisTxn) Rollback() error {
	t.finished = true
	return nil
}
