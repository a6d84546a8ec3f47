package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"giveaway/internal/ledger"
	"giveaway/internal/models"
)

// giveawayRegistry owns the id sequence and the giveaway records. The
// counter is only ever advanced through nextID.
type giveawayRegistry struct{}

// nextID stages the incremented counter in txn and returns the new id.
func (giveawayRegistry) nextID(txn ledger.Txn) (uint64, error) {
	raw, ok, err := txn.Get(ledger.CounterKey())
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	var last uint64
	if ok {
		last, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decode counter: %w", err)
		}
	}
	next := last + 1
	if next == 0 {
		return 0, fmt.Errorf("giveaway id sequence exhausted")
	}
	if err := txn.Set(ledger.CounterKey(), []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}
	return next, nil
}

func (giveawayRegistry) load(txn ledger.Txn, id uint64) (models.Giveaway, error) {
	raw, ok, err := txn.Get(ledger.GiveawayKey(id))
	if err != nil {
		return models.Giveaway{}, fmt.Errorf("read giveaway %d: %w", id, err)
	}
	if !ok {
		return models.Giveaway{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	var g models.Giveaway
	if err := json.Unmarshal(raw, &g); err != nil {
		return models.Giveaway{}, fmt.Errorf("decode giveaway %d: %w", id, err)
	}
	return g, nil
}

// save writes g. Only completed records are eligible to expire.
func (giveawayRegistry) save(txn ledger.Txn, g models.Giveaway) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode giveaway %d: %w", g.ID, err)
	}
	key := ledger.GiveawayKey(g.ID)
	if _, done := g.Phase.(models.Completed); done {
		key = ledger.CompletedGiveawayKey(g.ID)
	}
	if err := txn.Set(key, raw); err != nil {
		return fmt.Errorf("write giveaway %d: %w", g.ID, err)
	}
	return nil
}

// participantRegistry owns the write-once entry flags.
type participantRegistry struct{}

var flagValue = []byte("true")

func (participantRegistry) has(txn ledger.Txn, id uint64, who models.Address) (bool, error) {
	ok, err := txn.Has(ledger.ParticipantKey(id, who))
	if err != nil {
		return false, fmt.Errorf("read entry %d/%s: %w", id, who, err)
	}
	return ok, nil
}

// mark writes the entry flag. Any expiry counts from endTime, so a flag
// cannot lapse while the giveaway still accepts entries.
func (participantRegistry) mark(txn ledger.Txn, id uint64, who models.Address, endTime time.Time) error {
	if err := txn.Set(ledger.ParticipantKey(id, who).After(endTime), flagValue); err != nil {
		return fmt.Errorf("write entry %d/%s: %w", id, who, err)
	}
	return nil
}
