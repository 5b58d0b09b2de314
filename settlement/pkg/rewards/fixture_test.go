package rewards_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/samu-project/rewards/settlement/pkg/memstore"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	rewardstesting "github.com/samu-project/rewards/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var canonicalShares = rewards.Shares{Creator: 5000, Voter: 3000, NftHolder: 1500, Platform: 500}

type recordingSink struct {
	mu     sync.Mutex
	events []rewards.Event
}

func (s *recordingSink) Emit(ctx context.Context, event rewards.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Types() []rewards.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rewards.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type())
	}
	return out
}

func (s *recordingSink) Last() rewards.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type fixture struct {
	store     *memstore.Store
	clock     *clockwork.FakeClock
	sink      *recordingSink
	governor  *rewards.Governor
	engine    *rewards.Engine
	programID solana.PublicKey
	admin     solana.PublicKey
	treasury  solana.PublicKey
	mint      solana.PublicKey
	pool      solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memstore.New(),
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		sink:      &recordingSink{},
		programID: solana.NewWallet().PublicKey(),
		admin:     solana.NewWallet().PublicKey(),
		treasury:  solana.NewWallet().PublicKey(),
		mint:      solana.NewWallet().PublicKey(),
		pool:      solana.NewWallet().PublicKey(),
	}

	var err error
	f.governor, err = rewards.NewGovernor(rewards.GovernorConfig{
		Logger:    rewardstesting.NewLogger(),
		Clock:     f.clock,
		Store:     f.store,
		Events:    f.sink,
		ProgramID: f.programID,
	})
	require.NoError(t, err)

	f.engine, err = rewards.NewEngine(rewards.EngineConfig{
		Logger:    rewardstesting.NewLogger(),
		Clock:     f.clock,
		Store:     f.store,
		Events:    f.sink,
		ProgramID: f.programID,
	})
	require.NoError(t, err)

	return f
}

// newInitializedFixture returns a fixture with the canonical shares and a pool
// account funded with poolBalance units.
func newInitializedFixture(t *testing.T, poolBalance uint64) *fixture {
	t.Helper()

	f := newFixture(t)
	_, err := f.governor.Initialize(t.Context(), rewards.InitializeParams{
		Admin:      f.admin,
		Treasury:   f.treasury,
		RewardMint: f.mint,
		Shares:     canonicalShares,
	})
	require.NoError(t, err)

	f.store.PutTokenAccount(rewards.TokenAccount{
		Address: f.pool,
		Mint:    f.mint,
		Owner:   f.engine.Authority().Address(),
		Amount:  poolBalance,
	})
	return f
}

// recipient creates a wallet with a token account of the reward mint.
func (f *fixture) recipient(role rewards.Role, amount uint64) rewards.Recipient {
	wallet := solana.NewWallet().PublicKey()
	account := solana.NewWallet().PublicKey()
	f.store.PutTokenAccount(rewards.TokenAccount{Address: account, Mint: f.mint, Owner: wallet})
	return rewards.Recipient{Wallet: wallet, TokenAccount: account, Role: role, Amount: amount}
}

func (f *fixture) params(contestID uint64, index uint8, total uint64, recipients []rewards.Recipient) rewards.DistributeParams {
	var dest []solana.PublicKey
	for _, r := range recipients {
		if r.Amount > 0 {
			dest = append(dest, r.TokenAccount)
		}
	}
	return rewards.DistributeParams{
		Caller:              f.admin,
		ContestID:           contestID,
		DistributionIndex:   index,
		TotalAmount:         total,
		Recipients:          recipients,
		DestinationAccounts: dest,
		PoolAccount:         f.pool,
	}
}

func (f *fixture) balance(t *testing.T, account solana.PublicKey) uint64 {
	t.Helper()
	acct, err := f.store.TokenAccount(t.Context(), account)
	require.NoError(t, err)
	return acct.Amount
}

// canonicalRecipients returns one recipient per role matching the canonical
// shares of a 10000 unit pool.
func (f *fixture) canonicalRecipients() []rewards.Recipient {
	return []rewards.Recipient{
		f.recipient(rewards.RoleCreator, 5000),
		f.recipient(rewards.RoleVoter, 3000),
		f.recipient(rewards.RoleNftHolder, 1500),
		f.recipient(rewards.RolePlatform, 500),
	}
}
