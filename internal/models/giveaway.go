package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Address identifies an account: a creator, a participant, a winner, the
// custodial account, or an asset contract.
type Address string

func (a Address) String() string { return string(a) }

// Status is the externally visible name of a giveaway's phase.
type Status string

const (
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusClaimable Status = "claimable"
	StatusCompleted Status = "completed"
)

// Phase is the lifecycle state of a giveaway. The winner only exists on the
// phases that can carry one, so a claimable giveaway without a winner cannot
// be built.
type Phase interface {
	Status() Status
	isPhase()
}

// Active accepts entries until the end time.
type Active struct{}

// Ended no longer accepts entries and waits for a winner.
type Ended struct{}

// Claimable holds the winner designated by the authority; the prize is still in custody.
type Claimable struct {
	Winner Address
}

// Completed is terminal: the prize has been paid to Winner.
type Completed struct {
	Winner Address
}

func (Active) Status() Status    { return StatusActive }
func (Ended) Status() Status     { return StatusEnded }
func (Claimable) Status() Status { return StatusClaimable }
func (Completed) Status() Status { return StatusCompleted }

func (Active) isPhase()    {}
func (Ended) isPhase()     {}
func (Claimable) isPhase() {}
func (Completed) isPhase() {}

// Giveaway is one escrowed prize and its entry book.
type Giveaway struct {
	ID               uint64
	Phase            Phase
	Creator          Address
	Asset            Address
	Amount           Amount
	EndTime          time.Time
	ParticipantCount uint32
}

// Status returns the name of the current phase.
func (g Giveaway) Status() Status {
	if g.Phase == nil {
		return StatusActive
	}
	return g.Phase.Status()
}

// Winner returns the designated winner, if the phase carries one.
func (g Giveaway) Winner() (Address, bool) {
	switch p := g.Phase.(type) {
	case Claimable:
		return p.Winner, p.Winner != ""
	case Completed:
		return p.Winner, p.Winner != ""
	}
	return "", false
}

type giveawayJSON struct {
	ID               uint64    `json:"id"`
	Status           Status    `json:"status"`
	Creator          Address   `json:"creator"`
	Asset            Address   `json:"asset"`
	Amount           Amount    `json:"amount"`
	EndTime          time.Time `json:"end_time"`
	ParticipantCount uint32    `json:"participant_count"`
	Winner           *Address  `json:"winner"`
}

// MarshalJSON flattens the phase into status and winner fields.
func (g Giveaway) MarshalJSON() ([]byte, error) {
	out := giveawayJSON{
		ID:               g.ID,
		Status:           g.Status(),
		Creator:          g.Creator,
		Asset:            g.Asset,
		Amount:           g.Amount,
		EndTime:          g.EndTime,
		ParticipantCount: g.ParticipantCount,
	}
	if w, ok := g.Winner(); ok {
		out.Winner = &w
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the phase and rejects records whose status needs a
// winner that is missing.
func (g *Giveaway) UnmarshalJSON(data []byte) error {
	var in giveawayJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var winner Address
	if in.Winner != nil {
		winner = *in.Winner
	}
	var phase Phase
	switch in.Status {
	case StatusActive, "":
		phase = Active{}
	case StatusEnded:
		phase = Ended{}
	case StatusClaimable:
		if winner == "" {
			return fmt.Errorf("giveaway %d: claimable without winner", in.ID)
		}
		phase = Claimable{Winner: winner}
	case StatusCompleted:
		if winner == "" {
			return fmt.Errorf("giveaway %d: completed without winner", in.ID)
		}
		phase = Completed{Winner: winner}
	default:
		return fmt.Errorf("giveaway %d: unknown status %q", in.ID, in.Status)
	}
	*g = Giveaway{
		ID:               in.ID,
		Phase:            phase,
		Creator:          in.Creator,
		Asset:            in.Asset,
		Amount:           in.Amount,
		EndTime:          in.EndTime,
		ParticipantCount: in.ParticipantCount,
	}
	return nil
}

// Stats summarizes a giveaway for dashboards.
type Stats struct {
	ID      uint64  `json:"id"`
	Status  Status  `json:"status"`
	Entries uint32  `json:"entries"`
	Amount  Amount  `json:"amount"`
	Asset   Address `json:"asset"`
}
