// Package memstore is an in-process execution environment for the settlement
// engine. Each Atomic call works on a copy of the state that replaces the
// committed state only when the callback succeeds.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
)

type recordKey struct {
	contestID uint64
	index     uint8
}

type state struct {
	config   *rewards.Config
	records  map[recordKey]rewards.DistributionRecord
	order    []recordKey
	accounts map[solana.PublicKey]rewards.TokenAccount
}

func (s *state) clone() *state {
	c := &state{
		records:  maps.Clone(s.records),
		order:    slices.Clone(s.order),
		accounts: maps.Clone(s.accounts),
	}
	if s.config != nil {
		cfg := *s.config
		c.config = &cfg
	}
	return c
}

// Store is safe for concurrent use; Atomic calls are serialized.
type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{
		state: &state{
			records:  make(map[recordKey]rewards.DistributionRecord),
			accounts: make(map[solana.PublicKey]rewards.TokenAccount),
		},
	}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx rewards.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{state: s.state.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

func (s *Store) Config(ctx context.Context) (*rewards.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.config == nil {
		return nil, rewards.ErrNotInitialized
	}
	cfg := *s.state.config
	return &cfg, nil
}

func (s *Store) Record(ctx context.Context, contestID uint64, index uint8) (*rewards.DistributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.records[recordKey{contestID, index}]
	if !ok {
		return nil, rewards.ErrRecordNotFound
	}
	return &r, nil
}

func (s *Store) Records(ctx context.Context, limit, offset int) ([]rewards.DistributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rewards.DistributionRecord, 0, limit)
	for i := len(s.state.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.state.records[s.state.order[i]])
	}
	return out, nil
}

// PutTokenAccount creates or replaces a token account.
func (s *Store) PutTokenAccount(acct rewards.TokenAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.accounts[acct.Address] = acct
}

// TokenAccount returns the committed state of a token account.
func (s *Store) TokenAccount(ctx context.Context, address solana.PublicKey) (*rewards.TokenAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.tokenAccount(address)
}

func (st *state) tokenAccount(address solana.PublicKey) (*rewards.TokenAccount, error) {
	acct, ok := st.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rewards.ErrAccountNotFound, address)
	}
	return &acct, nil
}

type tx struct {
	state *state
}

func (t *tx) TokenAccount(ctx context.Context, address solana.PublicKey) (*rewards.TokenAccount, error) {
	return t.state.tokenAccount(address)
}

func (t *tx) Config(ctx context.Context) (*rewards.Config, error) {
	if t.state.config == nil {
		return nil, rewards.ErrNotInitialized
	}
	cfg := *t.state.config
	return &cfg, nil
}

func (t *tx) CreateConfig(ctx context.Context, cfg *rewards.Config) error {
	if t.state.config != nil {
		return rewards.ErrAlreadyInitialized
	}
	stored := *cfg
	stored.Version = 1
	t.state.config = &stored
	cfg.Version = stored.Version
	return nil
}

func (t *tx) UpdateConfig(ctx context.Context, cfg *rewards.Config) error {
	if t.state.config == nil {
		return rewards.ErrNotInitialized
	}
	if t.state.config.Version != cfg.Version {
		return rewards.ErrConflict
	}
	stored := *cfg
	stored.Version++
	t.state.config = &stored
	cfg.Version = stored.Version
	return nil
}

func (t *tx) CreateRecord(ctx context.Context, record *rewards.DistributionRecord) error {
	key := recordKey{record.ContestID, record.DistributionIndex}
	if _, ok := t.state.records[key]; ok {
		return fmt.Errorf("%w: contest %d index %d", rewards.ErrRecordExists, key.contestID, key.index)
	}
	t.state.records[key] = *record
	t.state.order = append(t.state.order, key)
	return nil
}

func (t *tx) PutTokenAccount(ctx context.Context, acct rewards.TokenAccount) error {
	t.state.accounts[acct.Address] = acct
	return nil
}

func (t *tx) Transfer(ctx context.Context, req rewards.TransferRequest) error {
	src, err := t.state.tokenAccount(req.Source)
	if err != nil {
		return err
	}
	dst, err := t.state.tokenAccount(req.Destination)
	if err != nil {
		return err
	}
	if !src.Owner.Equals(req.Authority.Address()) {
		return fmt.Errorf("%w: source not owned by authority", rewards.ErrInvalidTreasury)
	}
	if !src.Mint.Equals(req.Mint) || !dst.Mint.Equals(req.Mint) {
		return rewards.ErrInvalidMint
	}
	if src.Amount < req.Amount {
		return fmt.Errorf("%w: have %d, need %d", rewards.ErrInsufficientFunds, src.Amount, req.Amount)
	}
	if src.Address.Equals(dst.Address) {
		return nil
	}
	if dst.Amount+req.Amount < dst.Amount {
		return rewards.ErrArithmeticOverflow
	}
	src.Amount -= req.Amount
	dst.Amount += req.Amount
	t.state.accounts[src.Address] = *src
	t.state.accounts[dst.Address] = *dst
	return nil
}
