package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/logger"
)

// BadgerStore persists entries in badger. An empty path opens an in-memory
// database, which is what the tests use.
type BadgerStore struct {
	db  *badger.DB
	ttl TTLPolicy
}

func NewBadgerStore(path string, ttl TTLPolicy) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{}).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

func (s *BadgerStore) Begin(ctx context.Context) (Txn, error) {
	return &badgerTxn{store: s, tx: s.db.NewTransaction(true)}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerTxn struct {
	store    *BadgerStore
	tx       *badger.Txn
	finished bool
}

func (t *badgerTxn) Get(key Key) ([]byte, bool, error) {
	if t.finished {
		return nil, false, ErrTxnFinished
	}
	item, err := t.tx.Get([]byte(key.name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("badger read %s: %w", key, err)
	}
	return v, true, nil
}

func (t *badgerTxn) Has(key Key) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

func (t *badgerTxn) Set(key Key, value []byte) error {
	if t.finished {
		return ErrTxnFinished
	}
	e := badger.NewEntry([]byte(key.name), append([]byte(nil), value...))
	if ttl := t.store.ttl.TTL(key, time.Now()); ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := t.tx.SetEntry(e); err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (t *badgerTxn) Commit() error {
	if t.finished {
		return ErrTxnFinished
	}
	t.finished = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (t *badgerTxn) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	t.tx.Discard()
	return nil
}

// badgerLogger routes badger's internal logging through google/logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { logger.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { logger.Warningf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { logger.Infof("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   {}
