package rewards

import (
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestSettlement_Aggregate_Recipients(t *testing.T) {
	t.Parallel()

	t.Run("sums per role and keeps paid order", func(t *testing.T) {
		t.Parallel()

		a := solana.NewWallet().PublicKey()
		b := solana.NewWallet().PublicKey()
		c := solana.NewWallet().PublicKey()
		recipients := []Recipient{
			{Wallet: a, TokenAccount: a, Role: RoleCreator, Amount: 3000},
			{Wallet: b, TokenAccount: b, Role: RoleVoter, Amount: 0},
			{Wallet: c, TokenAccount: c, Role: RoleCreator, Amount: 2000},
			{Wallet: b, TokenAccount: b, Role: RolePlatform, Amount: 500},
		}

		agg, err := AggregateRecipients(recipients)
		require.NoError(t, err)
		require.Equal(t, RoleTotals{Creator: 5000, Voter: 0, NftHolder: 0, Platform: 500}, agg.Totals)
		require.Equal(t, uint64(5500), agg.DistributedTotal)
		require.Len(t, agg.Paid, 3)
		require.Equal(t, a, agg.Paid[0].TokenAccount)
		require.Equal(t, c, agg.Paid[1].TokenAccount)
		require.Equal(t, b, agg.Paid[2].TokenAccount)
	})

	t.Run("all zero amounts is invalid", func(t *testing.T) {
		t.Parallel()

		_, err := AggregateRecipients([]Recipient{{Role: RoleVoter}, {Role: RoleCreator}})
		require.True(t, errors.Is(err, ErrInvalidAmount))
	})

	t.Run("overflow within a role", func(t *testing.T) {
		t.Parallel()

		_, err := AggregateRecipients([]Recipient{
			{Role: RoleVoter, Amount: math.MaxUint64},
			{Role: RoleVoter, Amount: 1},
		})
		require.True(t, errors.Is(err, ErrArithmeticOverflow))
	})

	t.Run("overflow across roles", func(t *testing.T) {
		t.Parallel()

		_, err := AggregateRecipients([]Recipient{
			{Role: RoleVoter, Amount: math.MaxUint64},
			{Role: RoleCreator, Amount: 1},
		})
		require.True(t, errors.Is(err, ErrArithmeticOverflow))
	})

	t.Run("unknown role", func(t *testing.T) {
		t.Parallel()

		_, err := AggregateRecipients([]Recipient{{Role: Role(7), Amount: 1}})
		require.True(t, errors.Is(err, ErrInvalidRole))
		e, ok := AsError(err)
		require.True(t, ok)
		require.Equal(t, KindInput, e.Kind)
	})
}
