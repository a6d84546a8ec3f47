// Package events is the notification channel for downstream observers.
// Delivery is best effort: nothing in the giveaway lifecycle depends on an
// event being received.
package events

import (
	"time"

	"giveaway/internal/models"

	"github.com/google/uuid"
)

type EventType string

const (
	TypeGiveawayCreated   EventType = "GiveawayCreated"
	TypePrizeClaimed      EventType = "PrizeClaimed"
	TypeGiveawayEnded     EventType = "GiveawayEnded"
	TypeGiveawayClaimable EventType = "GiveawayClaimable"
)

// AllTypes lists every event type the lifecycle emits.
var AllTypes = []EventType{
	TypeGiveawayCreated,
	TypePrizeClaimed,
	TypeGiveawayEnded,
	TypeGiveawayClaimable,
}

type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent stamps an event with at, normally the publisher's clock.
func NewEvent(eventType EventType, at time.Time, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: at.UTC(),
		Data:      data,
	}
}

type GiveawayCreated struct {
	GiveawayID uint64         `json:"giveaway_id"`
	Creator    models.Address `json:"creator"`
	Amount     models.Amount  `json:"amount"`
	Asset      models.Address `json:"asset"`
}

type PrizeClaimed struct {
	GiveawayID uint64         `json:"giveaway_id"`
	Winner     models.Address `json:"winner"`
	Amount     models.Amount  `json:"amount"`
}

type GiveawayEnded struct {
	GiveawayID       uint64 `json:"giveaway_id"`
	ParticipantCount uint32 `json:"participant_count"`
}

type GiveawayClaimable struct {
	GiveawayID uint64         `json:"giveaway_id"`
	Winner     models.Address `json:"winner"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(evt Event)
}
