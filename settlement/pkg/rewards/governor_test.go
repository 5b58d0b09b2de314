package rewards_test

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	rewardstesting "github.com/samu-project/rewards/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestSettlement_Governor_NewGovernor(t *testing.T) {
	t.Parallel()

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		g, err := rewards.NewGovernor(rewards.GovernorConfig{})
		require.Error(t, err)
		require.Nil(t, g)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("missing store", func(t *testing.T) {
		t.Parallel()
		g, err := rewards.NewGovernor(rewards.GovernorConfig{Logger: rewardstesting.NewLogger()})
		require.Error(t, err)
		require.Nil(t, g)
		require.Contains(t, err.Error(), "store is required")
	})
}

func TestSettlement_Governor_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("stores the shares and zero counters", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		cfg, err := f.governor.Initialize(t.Context(), rewards.InitializeParams{
			Admin:      f.admin,
			Treasury:   f.treasury,
			RewardMint: f.mint,
			Shares:     canonicalShares,
		})
		require.NoError(t, err)

		addr, bump, err := rewards.DeriveConfigPDA(f.programID)
		require.NoError(t, err)
		require.Equal(t, addr, cfg.Address)
		require.Equal(t, bump, cfg.Bump)

		got, err := f.governor.Config(t.Context())
		require.NoError(t, err)
		require.Equal(t, canonicalShares, got.Shares)
		require.Equal(t, f.admin, got.Admin)
		require.Equal(t, f.treasury, got.Treasury)
		require.Equal(t, f.mint, got.RewardMint)
		require.Zero(t, got.TotalDistributions)
		require.Zero(t, got.TotalDistributedAmount)
		require.False(t, got.IsLocked)

		require.Equal(t, []rewards.EventType{rewards.EventConfigInitialized}, f.sink.Types())
		payload := f.sink.Last().Payload.(rewards.ConfigInitialized)
		require.Equal(t, canonicalShares, payload.Shares)
		require.Equal(t, f.admin, payload.Admin)
	})

	t.Run("rejects shares not summing to 10000", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.governor.Initialize(t.Context(), rewards.InitializeParams{
			Admin:  f.admin,
			Shares: rewards.Shares{Creator: 5000, Voter: 5000, Platform: 1},
		})
		require.True(t, errors.Is(err, rewards.ErrInvalidShareTotal))

		_, err = f.governor.Config(t.Context())
		require.True(t, errors.Is(err, rewards.ErrNotInitialized))
		require.Empty(t, f.sink.Types())
	})

	t.Run("can only run once", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.Initialize(t.Context(), rewards.InitializeParams{
			Admin:  solana.NewWallet().PublicKey(),
			Shares: rewards.Shares{Platform: 10000},
		})
		require.True(t, errors.Is(err, rewards.ErrAlreadyInitialized))

		cfg, err := f.governor.Config(t.Context())
		require.NoError(t, err)
		require.Equal(t, f.admin, cfg.Admin)
		require.Equal(t, canonicalShares, cfg.Shares)
	})
}

func TestSettlement_Governor_UpdateShares(t *testing.T) {
	t.Parallel()

	next := rewards.Shares{Creator: 4000, Voter: 4000, NftHolder: 1000, Platform: 1000}

	t.Run("replaces all shares", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.UpdateShares(t.Context(), f.admin, next)
		require.NoError(t, err)

		cfg, err := f.governor.Config(t.Context())
		require.NoError(t, err)
		require.Equal(t, next, cfg.Shares)
		require.Equal(t, rewards.EventSharesUpdated, f.sink.Last().Type())
	})

	t.Run("rejects non admin", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.UpdateShares(t.Context(), solana.NewWallet().PublicKey(), next)
		require.True(t, errors.Is(err, rewards.ErrUnauthorized))
	})

	t.Run("rejects invalid total and keeps old shares", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.UpdateShares(t.Context(), f.admin, rewards.Shares{Creator: 1})
		require.True(t, errors.Is(err, rewards.ErrInvalidShareTotal))

		cfg, err := f.governor.Config(t.Context())
		require.NoError(t, err)
		require.Equal(t, canonicalShares, cfg.Shares)
	})

	t.Run("fails after lock", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.LockConfig(t.Context(), f.admin)
		require.NoError(t, err)

		_, err = f.governor.UpdateShares(t.Context(), f.admin, next)
		require.True(t, errors.Is(err, rewards.ErrConfigLocked))

		// Locked is checked before the share total.
		_, err = f.governor.UpdateShares(t.Context(), f.admin, rewards.Shares{})
		require.True(t, errors.Is(err, rewards.ErrConfigLocked))
	})

	t.Run("not initialized", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.governor.UpdateShares(t.Context(), f.admin, next)
		require.True(t, errors.Is(err, rewards.ErrNotInitialized))
	})
}

func TestSettlement_Governor_LockConfig(t *testing.T) {
	t.Parallel()

	t.Run("locks once", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		cfg, err := f.governor.LockConfig(t.Context(), f.admin)
		require.NoError(t, err)
		require.True(t, cfg.IsLocked)
		require.Equal(t, rewards.EventConfigLocked, f.sink.Last().Type())
	})

	// Re-locking is a ConfigLocked error, not an idempotent success.
	t.Run("second lock is an error", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.LockConfig(t.Context(), f.admin)
		require.NoError(t, err)
		_, err = f.governor.LockConfig(t.Context(), f.admin)
		require.True(t, errors.Is(err, rewards.ErrConfigLocked))

		cfg, err := f.governor.Config(t.Context())
		require.NoError(t, err)
		require.True(t, cfg.IsLocked)
	})

	t.Run("rejects non admin", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.LockConfig(t.Context(), solana.NewWallet().PublicKey())
		require.True(t, errors.Is(err, rewards.ErrUnauthorized))

		cfg, err := f.governor.Config(t.Context())
		require.NoError(t, err)
		require.False(t, cfg.IsLocked)
	})
}

func TestSettlement_Governor_TransferAdmin(t *testing.T) {
	t.Parallel()

	t.Run("hands over governance", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)
		newAdmin := solana.NewWallet().PublicKey()

		_, err := f.governor.TransferAdmin(t.Context(), f.admin, newAdmin)
		require.NoError(t, err)

		payload := f.sink.Last().Payload.(rewards.AdminTransferred)
		require.Equal(t, f.admin, payload.OldAdmin)
		require.Equal(t, newAdmin, payload.NewAdmin)

		_, err = f.governor.LockConfig(t.Context(), f.admin)
		require.True(t, errors.Is(err, rewards.ErrUnauthorized))
		_, err = f.governor.LockConfig(t.Context(), newAdmin)
		require.NoError(t, err)
	})

	t.Run("allowed while locked", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)
		newAdmin := solana.NewWallet().PublicKey()

		_, err := f.governor.LockConfig(t.Context(), f.admin)
		require.NoError(t, err)
		cfg, err := f.governor.TransferAdmin(t.Context(), f.admin, newAdmin)
		require.NoError(t, err)
		require.Equal(t, newAdmin, cfg.Admin)
	})

	t.Run("rejects non admin", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)
		other := solana.NewWallet().PublicKey()

		_, err := f.governor.TransferAdmin(t.Context(), other, other)
		require.True(t, errors.Is(err, rewards.ErrUnauthorized))
	})
}

func TestSettlement_Governor_RegisterTokenAccount(t *testing.T) {
	t.Parallel()

	t.Run("records the account", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)
		acct := rewards.TokenAccount{
			Address: solana.NewWallet().PublicKey(),
			Mint:    f.mint,
			Owner:   solana.NewWallet().PublicKey(),
			Amount:  42,
		}

		_, err := f.governor.RegisterTokenAccount(t.Context(), f.admin, acct)
		require.NoError(t, err)

		got, err := f.store.TokenAccount(t.Context(), acct.Address)
		require.NoError(t, err)
		require.Equal(t, acct, *got)

		payload := f.sink.Last().Payload.(rewards.AccountRegistered)
		require.Equal(t, acct.Address, payload.Address)
	})

	t.Run("replaces an existing account", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 100)

		_, err := f.governor.RegisterTokenAccount(t.Context(), f.admin, rewards.TokenAccount{
			Address: f.pool,
			Mint:    f.mint,
			Owner:   f.engine.Authority().Address(),
			Amount:  7,
		})
		require.NoError(t, err)
		require.Equal(t, uint64(7), f.balance(t, f.pool))
	})

	t.Run("rejects non admin", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)
		other := solana.NewWallet().PublicKey()
		acct := rewards.TokenAccount{Address: other, Mint: f.mint, Owner: other}

		_, err := f.governor.RegisterTokenAccount(t.Context(), other, acct)
		require.True(t, errors.Is(err, rewards.ErrUnauthorized))

		_, err = f.store.TokenAccount(t.Context(), other)
		require.True(t, errors.Is(err, rewards.ErrAccountNotFound))
	})

	t.Run("rejects incomplete account", func(t *testing.T) {
		t.Parallel()
		f := newInitializedFixture(t, 0)

		_, err := f.governor.RegisterTokenAccount(t.Context(), f.admin, rewards.TokenAccount{Address: f.pool})
		require.True(t, errors.Is(err, rewards.ErrInvalidAccount))
	})

	t.Run("requires initialization", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		key := solana.NewWallet().PublicKey()

		_, err := f.governor.RegisterTokenAccount(t.Context(), f.admin, rewards.TokenAccount{Address: key, Mint: key, Owner: key})
		require.True(t, errors.Is(err, rewards.ErrNotInitialized))
	})
}
