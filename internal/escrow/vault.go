// Package escrow moves asset balances between addresses.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"giveaway/internal/models"

	"github.com/google/logger"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
)

// Transferer moves amount of asset from one address to another. A transfer
// either happens in full or not at all.
type Transferer interface {
	Transfer(ctx context.Context, asset, from, to models.Address, amount models.Amount) error
}

type balanceKey struct {
	asset models.Address
	owner models.Address
}

// Vault is an in-process token ledger. It stands in for an external token
// service in development deployments and in tests.
type Vault struct {
	mu       sync.Mutex
	balances map[balanceKey]models.Amount
}

func NewVault() *Vault {
	return &Vault{balances: make(map[balanceKey]models.Amount)}
}

// Mint credits amount of asset to owner.
func (v *Vault) Mint(asset, owner models.Address, amount models.Amount) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: mint amount must be positive", ErrTransferFailed)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	k := balanceKey{asset: asset, owner: owner}
	next, err := v.balances[k].Add(amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	v.balances[k] = next
	logger.Infof("minted %s of %s to %s", amount, asset, owner)
	return nil
}

// Balance returns owner's balance of asset.
func (v *Vault) Balance(asset, owner models.Address) models.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[balanceKey{asset: asset, owner: owner}]
}

func (v *Vault) Transfer(ctx context.Context, asset, from, to models.Address, amount models.Amount) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrTransferFailed)
	}
	if from == to {
		return fmt.Errorf("%w: source and destination are the same", ErrTransferFailed)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	fromKey := balanceKey{asset: asset, owner: from}
	toKey := balanceKey{asset: asset, owner: to}
	if v.balances[fromKey].Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientBalance, from, v.balances[fromKey], asset, amount)
	}
	debited, err := v.balances[fromKey].Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	credited, err := v.balances[toKey].Add(amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	v.balances[fromKey] = debited
	v.balances[toKey] = credited
	return nil
}
