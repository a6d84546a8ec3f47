package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"giveaway/internal/auth"
	"giveaway/internal/escrow"
	"giveaway/internal/events"
	"giveaway/internal/ledger"
	"giveaway/internal/metrics"
	"giveaway/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	custody models.Address = "CUSTODY"
	asset   models.Address = "XLM"
	alice   models.Address = "GALICE"
	bob     models.Address = "GBOB"
	carol   models.Address = "GCAROL"
)

var start = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyTransfers fails the next transfer when failNext is set.
type flakyTransfers struct {
	escrow.Transferer
	failNext bool
}

func (f *flakyTransfers) Transfer(ctx context.Context, asset, from, to models.Address, amount models.Amount) error {
	if f.failNext {
		f.failNext = false
		return escrow.ErrTransferFailed
	}
	return f.Transferer.Transfer(ctx, asset, from, to, amount)
}

// flakyStore fails every commit while failCommit is set.
type flakyStore struct {
	ledger.Store
	failCommit bool
}

func (f *flakyStore) Begin(ctx context.Context) (ledger.Txn, error) {
	txn, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTxn{Txn: txn, fail: f.failCommit}, nil
}

type flakyTxn struct {
	ledger.Txn
	fail bool
}

func (t *flakyTxn) Commit() error {
	if t.fail {
		_ = t.Txn.Rollback()
		return errors.New("disk full")
	}
	return t.Txn.Commit()
}

type fixture struct {
	svc       *GiveawayService
	vault     *escrow.Vault
	transfers *flakyTransfers
	store     *flakyStore
	clock     *clock.Mock
	events    *recorder
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, store ledger.Store) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(start)
	if store == nil {
		store = ledger.NewMemoryStore(ledger.TTLPolicy{}, clk)
	}
	return setupFixture(t, clk, store)
}

// newTTLFixture backs the service with a memory store that expires entries
// on the fixture's clock.
func newTTLFixture(t *testing.T, ttl ledger.TTLPolicy) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(start)
	return setupFixture(t, clk, ledger.NewMemoryStore(ttl, clk))
}

func setupFixture(t *testing.T, clk *clock.Mock, store ledger.Store) *fixture {
	t.Helper()
	f := &fixture{
		vault:   escrow.NewVault(),
		store:   &flakyStore{Store: store},
		clock:   clk,
		events:  &recorder{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.transfers = &flakyTransfers{Transferer: f.vault}
	svc, err := NewGiveawayService(Config{
		Store:     f.store,
		Transfers: f.transfers,
		Clock:     clk,
		Events:    f.events,
		Metrics:   f.metrics,
		Custody:   custody,
	})
	require.NoError(t, err)
	f.svc = svc
	require.NoError(t, f.vault.Mint(asset, alice, models.NewAmount(1000)))
	return f
}

func as(who models.Address) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Address: who, Role: auth.RoleUser})
}

func asAuthority() context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Address: "GOPS", Role: auth.RoleAuthority})
}

func (f *fixture) balance(who models.Address) string {
	return f.vault.Balance(asset, who).String()
}

func (f *fixture) create(t *testing.T, amount int64) uint64 {
	t.Helper()
	id, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(amount), start.Add(time.Hour))
	require.NoError(t, err)
	return id
}

// makeClaimable drives a giveaway through the authority transitions.
func (f *fixture) makeClaimable(t *testing.T, id uint64, winner models.Address) {
	t.Helper()
	f.clock.Add(2 * time.Hour)
	require.NoError(t, f.svc.End(asAuthority(), id))
	require.NoError(t, f.svc.MarkClaimable(asAuthority(), id, winner))
}

func TestGiveawayService_Scenario(t *testing.T) {
	badgerStore, err := ledger.NewBadgerStore("", ledger.TTLPolicy{})
	require.NoError(t, err)
	defer badgerStore.Close()

	stores := map[string]ledger.Store{
		"memory": ledger.NewMemoryStore(ledger.TTLPolicy{}, nil),
		"badger": badgerStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)
			ctx := context.Background()

			id, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(100), start.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, uint64(1), id)
			assert.Equal(t, "100", f.balance(custody))
			assert.Equal(t, "900", f.balance(alice))

			require.NoError(t, f.svc.Enter(as(bob), bob, id))
			g, err := f.svc.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, uint32(1), g.ParticipantCount)

			err = f.svc.Enter(as(bob), bob, id)
			assert.ErrorIs(t, err, ErrDuplicateEntry)
			g, err = f.svc.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, uint32(1), g.ParticipantCount)

			f.makeClaimable(t, id, bob)

			require.NoError(t, f.svc.Distribute(ctx, id))
			assert.Equal(t, "100", f.balance(bob))
			assert.Equal(t, "0", f.balance(custody))
			g, err = f.svc.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, g.Status())
			winner, ok := g.Winner()
			assert.True(t, ok)
			assert.Equal(t, bob, winner)

			err = f.svc.Distribute(ctx, id)
			assert.ErrorIs(t, err, ErrNotClaimable)
			assert.Equal(t, "100", f.balance(bob))

			assert.Equal(t, []events.EventType{
				events.TypeGiveawayCreated,
				events.TypeGiveawayEnded,
				events.TypeGiveawayClaimable,
				events.TypePrizeClaimed,
			}, f.events.types())
		})
	}
}

func TestGiveawayService_Create(t *testing.T) {
	t.Run("ids are strictly increasing", func(t *testing.T) {
		f := newFixture(t, nil)
		var last uint64
		for range 5 {
			id := f.create(t, 10)
			assert.Greater(t, id, last)
			last = id
		}
		assert.Equal(t, "50", f.balance(custody))
	})

	t.Run("unauthorized creator changes nothing", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Create(as(bob), alice, asset, models.NewAmount(10), start.Add(time.Hour))
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
		assert.Equal(t, "1000", f.balance(alice))
		assert.Equal(t, uint64(1), f.create(t, 10), "counter must not advance on failure")
	})

	t.Run("failed transfer changes nothing", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(5000), start.Add(time.Hour))
		assert.ErrorIs(t, err, escrow.ErrInsufficientBalance)

		_, err = f.svc.Get(context.Background(), 1)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, uint64(1), f.create(t, 10))
		assert.Equal(t, 1.0, f.metrics.Count("create", "transfer_failed"))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(0), start.Add(time.Hour))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = f.svc.Create(as(alice), alice, asset, models.NewAmount(-3), start.Add(time.Hour))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("end time in the past is accepted", func(t *testing.T) {
		f := newFixture(t, nil)
		id, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(1), start.Add(-time.Hour))
		require.NoError(t, err)
		assert.ErrorIs(t, f.svc.Enter(as(bob), bob, id), ErrExpired)
	})

	t.Run("failed commit refunds the creator", func(t *testing.T) {
		f := newFixture(t, nil)
		f.store.failCommit = true
		_, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(100), start.Add(time.Hour))
		require.Error(t, err)
		assert.Equal(t, "1000", f.balance(alice))
		assert.Equal(t, "0", f.balance(custody))

		f.store.failCommit = false
		assert.Equal(t, uint64(1), f.create(t, 10))
		assert.Equal(t, []events.EventType{events.TypeGiveawayCreated}, f.events.types())
	})
}

func TestGiveawayService_Enter(t *testing.T) {
	t.Run("unknown giveaway", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.ErrorIs(t, f.svc.Enter(as(bob), bob, 42), ErrNotFound)
	})

	t.Run("requires the participant's authorization", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		assert.ErrorIs(t, f.svc.Enter(as(carol), bob, id), auth.ErrUnauthorized)
		entered, err := f.svc.HasEntered(context.Background(), id, bob)
		require.NoError(t, err)
		assert.False(t, entered)
	})

	t.Run("each participant counts once", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		require.NoError(t, f.svc.Enter(as(carol), carol, id))
		assert.ErrorIs(t, f.svc.Enter(as(carol), carol, id), ErrDuplicateEntry)

		stats, err := f.svc.Stats(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), stats.Entries)
		assert.Equal(t, models.StatusActive, stats.Status)
		assert.Equal(t, 1.0, f.metrics.Count("enter", "duplicate_entry"))
	})

	t.Run("entry at the end time is accepted, after it is not", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		f.clock.Set(start.Add(time.Hour))
		require.NoError(t, f.svc.Enter(as(bob), bob, id))

		f.clock.Add(time.Second)
		assert.ErrorIs(t, f.svc.Enter(as(carol), carol, id), ErrExpired)
		g, err := f.svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), g.ParticipantCount)
	})

	t.Run("entries are per giveaway", func(t *testing.T) {
		f := newFixture(t, nil)
		first := f.create(t, 10)
		second := f.create(t, 10)
		require.NoError(t, f.svc.Enter(as(bob), bob, first))
		require.NoError(t, f.svc.Enter(as(bob), bob, second))
	})

	t.Run("failed commit leaves no flag behind", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		f.store.failCommit = true
		require.Error(t, f.svc.Enter(as(bob), bob, id))
		f.store.failCommit = false
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
	})
}

func TestGiveawayService_Distribute(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown giveaway", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.ErrorIs(t, f.svc.Distribute(ctx, 9), ErrNotFound)
	})

	t.Run("active giveaway is not claimable and nothing moves", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 100)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		assert.ErrorIs(t, f.svc.Distribute(ctx, id), ErrNotClaimable)

		f.clock.Add(2 * time.Hour)
		require.NoError(t, f.svc.End(asAuthority(), id))
		assert.ErrorIs(t, f.svc.Distribute(ctx, id), ErrNotClaimable)

		assert.Equal(t, "100", f.balance(custody))
		assert.Equal(t, "0", f.balance(bob))
	})

	t.Run("failed transfer keeps the giveaway claimable", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 100)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		f.makeClaimable(t, id, bob)

		f.transfers.failNext = true
		assert.ErrorIs(t, f.svc.Distribute(ctx, id), escrow.ErrTransferFailed)
		g, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusClaimable, g.Status())
		assert.Equal(t, "100", f.balance(custody))

		require.NoError(t, f.svc.Distribute(ctx, id))
		assert.Equal(t, "100", f.balance(bob))
	})

	t.Run("failed commit takes the payout back", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 100)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		f.makeClaimable(t, id, bob)

		f.store.failCommit = true
		require.Error(t, f.svc.Distribute(ctx, id))
		assert.Equal(t, "100", f.balance(custody))
		assert.Equal(t, "0", f.balance(bob))

		f.store.failCommit = false
		require.NoError(t, f.svc.Distribute(ctx, id))
		assert.Equal(t, "100", f.balance(bob))
	})

	t.Run("funds are conserved across giveaways", func(t *testing.T) {
		f := newFixture(t, nil)
		first := f.create(t, 300)
		second := f.create(t, 200)
		require.NoError(t, f.svc.Enter(as(bob), bob, first))
		require.NoError(t, f.svc.Enter(as(carol), carol, second))
		f.makeClaimable(t, first, bob)
		require.NoError(t, f.svc.Distribute(ctx, first))
		assert.ErrorIs(t, f.svc.Distribute(ctx, first), ErrNotClaimable)

		assert.Equal(t, "300", f.balance(bob))
		assert.Equal(t, "200", f.balance(custody), "second prize stays in custody")
	})

	t.Run("claimable record without winner is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 100)
		txn, err := f.store.Store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, txn.Set(ledger.GiveawayKey(id),
			[]byte(`{"id":1,"status":"claimable","creator":"GALICE","asset":"XLM","amount":"100"}`)))
		require.NoError(t, txn.Commit())

		assert.Error(t, f.svc.Distribute(ctx, id))
		assert.Equal(t, "100", f.balance(custody))
	})
}

func TestGiveawayService_Authority(t *testing.T) {
	t.Run("requires the authority role", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		f.clock.Add(2 * time.Hour)
		assert.ErrorIs(t, f.svc.End(as(alice), id), auth.ErrForbidden)
		assert.ErrorIs(t, f.svc.MarkClaimable(as(alice), id, bob), auth.ErrForbidden)
	})

	t.Run("cannot end before the end time", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		assert.ErrorIs(t, f.svc.End(asAuthority(), id), ErrNotEnded)
	})

	t.Run("winner must have entered", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		f.clock.Add(2 * time.Hour)
		require.NoError(t, f.svc.End(asAuthority(), id))
		assert.ErrorIs(t, f.svc.MarkClaimable(asAuthority(), id, carol), ErrNotParticipant)
	})

	t.Run("transitions only move forward", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.create(t, 10)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		assert.ErrorIs(t, f.svc.MarkClaimable(asAuthority(), id, bob), ErrInvalidTransition)

		f.makeClaimable(t, id, bob)
		assert.ErrorIs(t, f.svc.End(asAuthority(), id), ErrInvalidTransition)
		assert.ErrorIs(t, f.svc.MarkClaimable(asAuthority(), id, bob), ErrInvalidTransition)
	})

	t.Run("ended giveaway refuses entries", func(t *testing.T) {
		f := newFixture(t, nil)
		id, err := f.svc.Create(as(alice), alice, asset, models.NewAmount(10), start.Add(time.Hour))
		require.NoError(t, err)
		f.clock.Add(2 * time.Hour)
		require.NoError(t, f.svc.End(asAuthority(), id))
		f.clock.Set(start)
		assert.ErrorIs(t, f.svc.Enter(as(bob), bob, id), ErrNotActive)
	})
}

func TestGiveawayService_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("entry flags last through the entry period", func(t *testing.T) {
		f := newTTLFixture(t, ledger.TTLPolicy{Completed: time.Hour, Participation: 10 * time.Minute})
		id := f.create(t, 300)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))

		f.clock.Add(50 * time.Minute)
		assert.ErrorIs(t, f.svc.Enter(as(bob), bob, id), ErrDuplicateEntry)
		g, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), g.ParticipantCount)

		// Still inside the window after the end time.
		f.clock.Add(15 * time.Minute)
		require.NoError(t, f.svc.End(asAuthority(), id))
		require.NoError(t, f.svc.MarkClaimable(asAuthority(), id, bob))
		require.NoError(t, f.svc.Distribute(ctx, id))
		assert.Equal(t, "300", f.balance(bob))
		assert.Equal(t, "0", f.balance(custody))
	})

	t.Run("winner must be designated within the window", func(t *testing.T) {
		f := newTTLFixture(t, ledger.TTLPolicy{Participation: 10 * time.Minute})
		id := f.create(t, 10)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))

		f.clock.Add(2 * time.Hour)
		require.NoError(t, f.svc.End(asAuthority(), id))
		assert.ErrorIs(t, f.svc.MarkClaimable(asAuthority(), id, bob), ErrNotParticipant)
		assert.Equal(t, "10", f.balance(custody))
	})

	t.Run("unfinished records and the counter never expire", func(t *testing.T) {
		f := newTTLFixture(t, ledger.TTLPolicy{Completed: time.Minute, Participation: time.Minute})
		first := f.create(t, 300)
		require.NoError(t, f.svc.Enter(as(bob), bob, first))

		f.clock.Add(24 * 365 * time.Hour)
		second := f.create(t, 200)
		assert.Equal(t, first+1, second)

		g, err := f.svc.Get(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, g.Status())
		assert.True(t, g.Amount.Equal(models.NewAmount(300)))
		assert.Equal(t, uint32(1), g.ParticipantCount)
		assert.Equal(t, "500", f.balance(custody))
	})

	t.Run("completed records may expire", func(t *testing.T) {
		f := newTTLFixture(t, ledger.TTLPolicy{Completed: time.Hour})
		id := f.create(t, 100)
		require.NoError(t, f.svc.Enter(as(bob), bob, id))
		f.makeClaimable(t, id, bob)
		require.NoError(t, f.svc.Distribute(ctx, id))

		f.clock.Add(30 * time.Minute)
		g, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, g.Status())

		f.clock.Add(time.Hour)
		_, err = f.svc.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, f.svc.Distribute(ctx, id), ErrNotFound)
		assert.Equal(t, "100", f.balance(bob))

		assert.Equal(t, id+1, f.create(t, 10), "ids are never reused")
	})
}

func TestGiveawayService_EventTimestamps(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, 10)
	require.NoError(t, f.svc.Enter(as(bob), bob, id))
	f.clock.Add(90 * time.Minute)
	require.NoError(t, f.svc.End(asAuthority(), id))

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 2)
	assert.Equal(t, start, f.events.events[0].Timestamp)
	assert.Equal(t, start.Add(90*time.Minute), f.events.events[1].Timestamp)
}
