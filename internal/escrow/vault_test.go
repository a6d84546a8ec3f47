package escrow

import (
	"context"
	"testing"

	"giveaway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_Transfer(t *testing.T) {
	ctx := context.Background()
	const asset models.Address = "XLM"

	t.Run("moves funds between owners", func(t *testing.T) {
		v := NewVault()
		require.NoError(t, v.Mint(asset, "alice", models.NewAmount(100)))

		require.NoError(t, v.Transfer(ctx, asset, "alice", "bob", models.NewAmount(40)))

		assert.Equal(t, "60", v.Balance(asset, "alice").String())
		assert.Equal(t, "40", v.Balance(asset, "bob").String())
	})

	t.Run("insufficient balance leaves both sides untouched", func(t *testing.T) {
		v := NewVault()
		require.NoError(t, v.Mint(asset, "alice", models.NewAmount(10)))

		err := v.Transfer(ctx, asset, "alice", "bob", models.NewAmount(11))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, "10", v.Balance(asset, "alice").String())
		assert.Equal(t, "0", v.Balance(asset, "bob").String())
	})

	t.Run("balances are per asset", func(t *testing.T) {
		v := NewVault()
		require.NoError(t, v.Mint("USDC", "alice", models.NewAmount(10)))

		err := v.Transfer(ctx, asset, "alice", "bob", models.NewAmount(1))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		v := NewVault()
		assert.ErrorIs(t, v.Transfer(ctx, asset, "alice", "bob", models.NewAmount(0)), ErrTransferFailed)
		assert.ErrorIs(t, v.Mint(asset, "alice", models.NewAmount(-5)), ErrTransferFailed)
	})
}
