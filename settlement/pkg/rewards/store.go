package rewards

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// AccountResolver returns the current state of a token account.
// Implementations return ErrAccountNotFound for unknown addresses.
type AccountResolver interface {
	TokenAccount(ctx context.Context, address solana.PublicKey) (*TokenAccount, error)
}

// TransferRequest moves Amount units of Mint from Source to Destination under
// the pool authority.
type TransferRequest struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Mint        solana.PublicKey
	Authority   PoolAuthority
	Amount      uint64
}

// Tx is a unit of work inside Store.Atomic. Everything done through a Tx
// commits together or not at all.
type Tx interface {
	AccountResolver

	// Config returns ErrNotInitialized if the singleton has not been created.
	Config(ctx context.Context) (*Config, error)
	// CreateConfig returns ErrAlreadyInitialized if the singleton exists.
	CreateConfig(ctx context.Context, cfg *Config) error
	// UpdateConfig returns ErrConflict if cfg.Version is not the stored version.
	// On success cfg.Version is incremented.
	UpdateConfig(ctx context.Context, cfg *Config) error
	// CreateRecord returns ErrRecordExists if the settlement key was used before.
	CreateRecord(ctx context.Context, record *DistributionRecord) error
	// Transfer fails with ErrInsufficientFunds, ErrInvalidMint, or
	// ErrInvalidTreasury if the authority does not own the source.
	Transfer(ctx context.Context, req TransferRequest) error
	// PutTokenAccount creates or replaces a token account in the ledger.
	PutTokenAccount(ctx context.Context, acct TokenAccount) error
}

// Store is the keyed record storage and execution environment of the engine.
type Store interface {
	// Atomic runs fn in a single unit of work. If fn returns an error, no
	// change made through tx is observable afterwards.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// TokenAccount returns committed ledger state.
	AccountResolver
	Config(ctx context.Context) (*Config, error)
	Record(ctx context.Context, contestID uint64, index uint8) (*DistributionRecord, error)
	// Records lists records newest first.
	Records(ctx context.Context, limit, offset int) ([]DistributionRecord, error)
}
