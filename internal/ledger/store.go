// Package ledger is the durable keyed storage used by the giveaway registries.
// Every read and write happens inside a Txn; nothing is visible to other
// transactions until Commit succeeds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giveaway/internal/models"
)

var (
	ErrTxnFinished    = errors.New("ledger: transaction already finished")
	ErrConflict       = errors.New("ledger: entry changed by another writer")
	ErrUnknownBackend = errors.New("ledger: unknown backend")
)

// Tier groups keys that share a lifetime policy.
type Tier int

const (
	// TierPermanent holds the id counter and the records of giveaways that
	// have not completed. These entries never expire.
	TierPermanent Tier = iota
	// TierCompleted holds records of completed giveaways.
	TierCompleted
	// TierParticipation holds the per-participant entry flags.
	TierParticipation
)

// Key addresses a single ledger entry. Two keys with the same name address
// the same entry whatever their tier.
type Key struct {
	name string
	tier Tier
	// after is the instant the tier TTL starts counting from when it is
	// later than the write.
	after time.Time
}

func CounterKey() Key {
	return Key{name: "giveaway/counter", tier: TierPermanent}
}

func GiveawayKey(id uint64) Key {
	return Key{name: fmt.Sprintf("giveaway/record/%d", id), tier: TierPermanent}
}

// CompletedGiveawayKey addresses the same record as GiveawayKey, written
// under the completed tier once the prize has been paid.
func CompletedGiveawayKey(id uint64) Key {
	return Key{name: fmt.Sprintf("giveaway/record/%d", id), tier: TierCompleted}
}

func ParticipantKey(id uint64, who models.Address) Key {
	return Key{name: fmt.Sprintf("giveaway/participant/%d/%s", id, who), tier: TierParticipation}
}

// After returns k with its TTL counted from t instead of from the write.
func (k Key) After(t time.Time) Key {
	k.after = t
	return k
}

func (k Key) String() string { return k.name }
func (k Key) Tier() Tier     { return k.tier }

// TTLPolicy is the expiration applied when writing each tier. Zero means the
// entry never expires. TierPermanent has no setting and never expires.
type TTLPolicy struct {
	Completed     time.Duration
	Participation time.Duration
}

func (p TTLPolicy) For(t Tier) time.Duration {
	switch t {
	case TierCompleted:
		return p.Completed
	case TierParticipation:
		return p.Participation
	default:
		return 0
	}
}

// TTL returns how long k lives when written at now. Zero means forever.
func (p TTLPolicy) TTL(k Key, now time.Time) time.Duration {
	ttl := p.For(k.tier)
	if ttl <= 0 {
		return 0
	}
	if k.after.After(now) {
		ttl += k.after.Sub(now)
	}
	return ttl
}

// Store opens transactions against the backing storage.
type Store interface {
	Begin(ctx context.Context) (Txn, error)
	Close() error
}

// Txn is a unit of work. Reads observe the transaction's own staged writes.
// Rollback after Commit is a no-op, so callers can always defer it.
type Txn interface {
	Get(key Key) ([]byte, bool, error)
	Has(key Key) (bool, error)
	Set(key Key, value []byte) error
	Commit() error
	Rollback() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend       string
	BadgerPath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	TTL           TTLPolicy
}

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Open creates the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.TTL, nil), nil
	case BackendBadger:
		return NewBadgerStore(opts.BadgerPath, opts.TTL)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		}, opts.TTL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// writeSet stages writes for backends that apply them in one batch at commit.
type writeSet struct {
	order  []Key
	index  map[string]int
	values map[string][]byte
}

func newWriteSet() *writeSet {
	return &writeSet{index: make(map[string]int), values: make(map[string][]byte)}
}

// put stages value under key. A later write to the same name replaces both
// the value and the key's tier.
func (w *writeSet) put(key Key, value []byte) {
	if i, ok := w.index[key.name]; ok {
		w.order[i] = key
	} else {
		w.index[key.name] = len(w.order)
		w.order = append(w.order, key)
	}
	w.values[key.name] = append([]byte(nil), value...)
}

func (w *writeSet) get(key Key) ([]byte, bool) {
	v, ok := w.values[key.name]
	return v, ok
}
