package services

import (
	"context"
	"fmt"
	"time"

	"giveaway/internal/auth"
	"giveaway/internal/events"
	"giveaway/internal/models"

	"github.com/google/logger"
)

// Authority is the trusted path that closes giveaways and designates
// winners. How a winner is chosen is up to the caller.
type Authority interface {
	End(ctx context.Context, id uint64) error
	MarkClaimable(ctx context.Context, id uint64, winner models.Address) error
}

var _ Authority = (*GiveawayService)(nil)

// End moves an active giveaway whose end time has passed to ended.
func (s *GiveawayService) End(ctx context.Context, id uint64) (err error) {
	defer s.observe("end", time.Now(), &err)

	if err := auth.RequireRole(ctx, auth.RoleAuthority); err != nil {
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
	if _, ok := g.Phase.(models.Active); !ok {
		return fmt.Errorf("%w: giveaway %d is %s, want %s", ErrInvalidTransition, id, g.Status(), models.StatusActive)
	}
	if !s.clock.Now().After(g.EndTime) {
		return fmt.Errorf("%w: giveaway %d runs until %s", ErrNotEnded, id, g.EndTime.Format(time.RFC3339))
	}

	g.Phase = models.Ended{}
	if err := s.giveaways.save(txn, g); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit end: %w", err)
	}

	logger.Infof("giveaway %d ended with %d participants", id, g.ParticipantCount)
	s.publish(events.TypeGiveawayEnded, events.GiveawayEnded{
		GiveawayID:       id,
		ParticipantCount: g.ParticipantCount,
	})
	return nil
}

// MarkClaimable records winner for an ended giveaway so the prize can be
// distributed. The winner must have entered the giveaway.
func (s *GiveawayService) MarkClaimable(ctx context.Context, id uint64, winner models.Address) (err error) {
	defer s.observe("mark_claimable", time.Now(), &err)

	if err := auth.RequireRole(ctx, auth.RoleAuthority); err != nil {
		return err
	}
	if winner == "" {
		return fmt.Errorf("%w: winner is required", ErrInvalidInput)
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
	if _, ok := g.Phase.(models.Ended); !ok {
		return fmt.Errorf("%w: giveaway %d is %s, want %s", ErrInvalidTransition, id, g.Status(), models.StatusEnded)
	}
	entered, err := s.entries.has(txn, id, winner)
	if err != nil {
		return err
	}
	if !entered {
		return fmt.Errorf("%w: %s in giveaway %d", ErrNotParticipant, winner, id)
	}

	g.Phase = models.Claimable{Winner: winner}
	if err := s.giveaways.save(txn, g); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit claimable: %w", err)
	}

	logger.Infof("giveaway %d claimable by %s", id, winner)
	s.publish(events.TypeGiveawayClaimable, events.GiveawayClaimable{
		GiveawayID: id,
		Winner:     winner,
	})
	return nil
}
