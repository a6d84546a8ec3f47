package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"giveaway/internal/auth"
	"giveaway/internal/escrow"
	"giveaway/internal/events"
	"giveaway/internal/ledger"
	"giveaway/internal/metrics"
	"giveaway/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/google/logger"
)

// Config holds the collaborators of a GiveawayService.
type Config struct {
	Store      ledger.Store
	Transfers  escrow.Transferer
	Authorizer auth.Authorizer
	Clock      clock.Clock
	Events     events.Publisher
	Metrics    *metrics.Metrics
	// Custody is the address that holds escrowed prizes.
	Custody models.Address
}

// GiveawayService runs the giveaway lifecycle: it escrows prizes on creation,
// records entries, and pays the winner exactly once.
type GiveawayService struct {
	// mu serializes every operation, so no two units of work interleave.
	mu sync.Mutex

	store     ledger.Store
	transfers escrow.Transferer
	authz     auth.Authorizer
	clock     clock.Clock
	events    events.Publisher
	metrics   *metrics.Metrics
	custody   models.Address

	giveaways giveawayRegistry
	entries   participantRegistry
}

// NewGiveawayService creates and initializes a new GiveawayService.
func NewGiveawayService(cfg Config) (*GiveawayService, error) {
	if cfg.Store == nil {
		return nil, errors.New("giveaway service: store is required")
	}
	if cfg.Transfers == nil {
		return nil, errors.New("giveaway service: transfer service is required")
	}
	if cfg.Custody == "" {
		return nil, errors.New("giveaway service: custody address is required")
	}
	s := &GiveawayService{
		store:     cfg.Store,
		transfers: cfg.Transfers,
		authz:     cfg.Authorizer,
		clock:     cfg.Clock,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		custody:   cfg.Custody,
	}
	if s.authz == nil {
		s.authz = auth.ContextAuthorizer{}
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	return s, nil
}

// Custody returns the address holding escrowed prizes.
func (s *GiveawayService) Custody() models.Address {
	return s.custody
}

// Create escrows amount of asset from creator and opens a new giveaway that
// accepts entries until endTime. It returns the new giveaway id.
func (s *GiveawayService) Create(ctx context.Context, creator, asset models.Address, amount models.Amount, endTime time.Time) (id uint64, err error) {
	defer s.observe("create", time.Now(), &err)

	if err := s.authz.RequireAuthorization(ctx, creator); err != nil {
		return 0, err
	}
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	if asset == "" {
		return 0, fmt.Errorf("%w: asset is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer txn.Rollback()

	id, err = s.giveaways.nextID(txn)
	if err != nil {
		return 0, err
	}
	g := models.Giveaway{
		ID:      id,
		Phase:   models.Active{},
		Creator: creator,
		Asset:   asset,
		Amount:  amount,
		EndTime: endTime.UTC(),
	}
	if err := s.giveaways.save(txn, g); err != nil {
		return 0, err
	}

	if err := s.transfers.Transfer(ctx, asset, creator, s.custody, amount); err != nil {
		return 0, fmt.Errorf("escrow prize: %w", err)
	}
	if err := txn.Commit(); err != nil {
		s.compensate(ctx, asset, s.custody, creator, amount)
		return 0, fmt.Errorf("commit giveaway %d: %w", id, err)
	}

	logger.Infof("giveaway %d created by %s: %s of %s until %s", id, creator, amount, asset, g.EndTime.Format(time.RFC3339))
	s.publish(events.TypeGiveawayCreated, events.GiveawayCreated{
		GiveawayID: id,
		Creator:    creator,
		Amount:     amount,
		Asset:      asset,
	})
	return id, nil
}

// Enter registers participant in giveaway id. Each participant may enter a
// giveaway once, and only before its end time.
func (s *GiveawayService) Enter(ctx context.Context, participant models.Address, id uint64) (err error) {
	defer s.observe("enter", time.Now(), &err)

	if err := s.authz.RequireAuthorization(ctx, participant); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer txn.Rollback()

	g, err := s.giveaways.load(txn, id)
	if err != nil {
		return err
	}
	if s.clock.Now().After(g.EndTime) {
		return fmt.Errorf("%w: giveaway %d closed at %s", ErrExpired, id, g.EndTime.Format(time.RFC3339))
	}
	if _, ok := g.Phase.(models.Active); !ok {
		return fmt.Errorf("%w: giveaway %d is %s", ErrNotActive, id, g.Status())
	}
	entered, err := s.entries.has(txn, id, participant)
	if err != nil {
		return err
	}
	if entered {
		return fmt.Errorf("%w: %s in giveaway %d", ErrDuplicateEntry, participant, id)
	}
	if g.ParticipantCount == math.MaxUint32 {
		return fmt.Errorf("%w: giveaway %d is full", ErrInvalidInput, id)
	}

	if err := s.entries.mark(txn, id, participant, g.EndTime); err != nil {
		return err
	}
	g.ParticipantCount++
	if err := s.giveaways.save(txn, g); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}

	logger.Infof("giveaway %d: %s entered (%d participants)", id, participant, g.ParticipantCount)
	return nil
}

// Distribute pays the prize of a claimable giveaway to its winner and marks
// it completed. Calling it again fails with ErrNotClaimable.
func (s *GiveawayService) Distribute(ctx context.Context, id uint64) (err error) {
	defer s.observe("distribute", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer txn.Rollback()

	g, err := s.giveaways.load(txn, id)
	if err != nil {
		return err
	}
	claim, ok := g.Phase.(models.Claimable)
	if !ok {
		return fmt.Errorf("%w: giveaway %d is %s", ErrNotClaimable, id, g.Status())
	}
	if claim.Winner == "" {
		return fmt.Errorf("%w: giveaway %d", ErrNoWinner, id)
	}

	g.Phase = models.Completed{Winner: claim.Winner}
	if err := s.giveaways.save(txn, g); err != nil {
		return err
	}
	if err := s.transfers.Transfer(ctx, g.Asset, s.custody, claim.Winner, g.Amount); err != nil {
		return fmt.Errorf("pay prize: %w", err)
	}
	if err := txn.Commit(); err != nil {
		s.compensate(ctx, g.Asset, claim.Winner, s.custody, g.Amount)
		return fmt.Errorf("commit payout %d: %w", id, err)
	}

	logger.Infof("giveaway %d completed: paid %s of %s to %s", id, g.Amount, g.Asset, claim.Winner)
	s.publish(events.TypePrizeClaimed, events.PrizeClaimed{
		GiveawayID: id,
		Winner:     claim.Winner,
		Amount:     g.Amount,
	})
	return nil
}

// Get returns the giveaway with the given id.
func (s *GiveawayService) Get(ctx context.Context, id uint64) (models.Giveaway, error) {
	txn, err := s.store.Begin(ctx)
	if err != nil {
		return models.Giveaway{}, fmt.Errorf("begin: %w", err)
	}
	defer txn.Rollback()
	return s.giveaways.load(txn, id)
}

// HasEntered reports whether participant entered giveaway id.
func (s *GiveawayService) HasEntered(ctx context.Context, id uint64, participant models.Address) (bool, error) {
	txn, err := s.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer txn.Rollback()
	if _, err := s.giveaways.load(txn, id); err != nil {
		return false, err
	}
	return s.entries.has(txn, id, participant)
}

// Stats returns the entry count and prize of giveaway id.
func (s *GiveawayService) Stats(ctx context.Context, id uint64) (models.Stats, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return models.Stats{}, err
	}
	return models.Stats{
		ID:      g.ID,
		Status:  g.Status(),
		Entries: g.ParticipantCount,
		Amount:  g.Amount,
		Asset:   g.Asset,
	}, nil
}

// compensate reverses a transfer whose storage commit failed. The original
// request may already be cancelled, so it runs detached from it.
func (s *GiveawayService) compensate(ctx context.Context, asset, from, to models.Address, amount models.Amount) {
	ctx = context.WithoutCancel(ctx)
	if err := s.transfers.Transfer(ctx, asset, from, to, amount); err != nil {
		logger.Errorf("compensating transfer of %s %s from %s to %s failed: %v", amount, asset, from, to, err)
		return
	}
	logger.Warningf("reversed transfer of %s %s from %s to %s after failed commit", amount, asset, from, to)
}

func (s *GiveawayService) publish(eventType events.EventType, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.NewEvent(eventType, s.clock.Now(), data))
}

func (s *GiveawayService) observe(operation string, start time.Time, err *error) {
	result := errorClass(*err)
	if *err != nil {
		logger.Infof("%s failed: %v", operation, *err)
	}
	s.metrics.Observe(operation, result, time.Since(start).Seconds())
}
