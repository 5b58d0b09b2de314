package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/samu-project/rewards/settlement/pkg/metrics"
)

// GovernorConfig configures a Governor. Logger, Store and ProgramID are
// required.
type GovernorConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Store     Store
	Events    EventSink
	ProgramID solana.PublicKey
}

func (cfg *GovernorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Events == nil {
		cfg.Events = MultiSink{}
	}
	return nil
}

// Governor owns the lifecycle of the share configuration.
type Governor struct {
	log *slog.Logger
	cfg GovernorConfig
}

// NewGovernor returns a Governor after validating cfg.
func NewGovernor(cfg GovernorConfig) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Governor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Config returns the current configuration.
func (g *Governor) Config(ctx context.Context) (*Config, error) {
	return g.cfg.Store.Config(ctx)
}

// InitializeParams are the values of a new configuration. Admin becomes the
// only identity allowed to govern it or settle distributions.
type InitializeParams struct {
	Admin      solana.PublicKey
	Treasury   solana.PublicKey
	RewardMint solana.PublicKey
	Shares     Shares
}

// Initialize creates the configuration. It can succeed once per deployment.
func (g *Governor) Initialize(ctx context.Context, p InitializeParams) (*Config, error) {
	if err := p.Shares.Validate(); err != nil {
		metrics.RecordGovernance("initialize", errorCode(err))
		return nil, err
	}

	addr, bump, err := DeriveConfigPDA(g.cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive config address: %w", err)
	}

	cfg := &Config{
		Address:    addr,
		Admin:      p.Admin,
		Treasury:   p.Treasury,
		RewardMint: p.RewardMint,
		Shares:     p.Shares,
		IsLocked:   false,
		Bump:       bump,
	}
	if err := g.cfg.Store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateConfig(ctx, cfg)
	}); err != nil {
		metrics.RecordGovernance("initialize", errorCode(err))
		return nil, err
	}
	metrics.RecordGovernance("initialize", "")

	g.log.Info("settlement/governor: config initialized",
		"admin", p.Admin.String(), "treasury", p.Treasury.String(), "mint", p.RewardMint.String())
	g.emit(ctx, ConfigInitialized{
		Admin:      cfg.Admin,
		Treasury:   cfg.Treasury,
		RewardMint: cfg.RewardMint,
		Shares:     cfg.Shares,
	})
	return cfg, nil
}

// UpdateShares replaces all four shares while the configuration is unlocked.
func (g *Governor) UpdateShares(ctx context.Context, caller solana.PublicKey, shares Shares) (*Config, error) {
	cfg, err := g.mutate(ctx, "update_shares", caller, func(cfg *Config) error {
		if cfg.IsLocked {
			return ErrConfigLocked
		}
		if err := shares.Validate(); err != nil {
			return err
		}
		cfg.Shares = shares
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("settlement/governor: shares updated",
		"creator", shares.Creator, "voter", shares.Voter, "nft_holder", shares.NftHolder, "platform", shares.Platform)
	g.emit(ctx, SharesUpdated{Shares: shares})
	return cfg, nil
}

// LockConfig makes the shares immutable. Locking twice is an error.
func (g *Governor) LockConfig(ctx context.Context, caller solana.PublicKey) (*Config, error) {
	cfg, err := g.mutate(ctx, "lock_config", caller, func(cfg *Config) error {
		if cfg.IsLocked {
			return ErrConfigLocked
		}
		cfg.IsLocked = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("settlement/governor: config locked", "admin", cfg.Admin.String())
	g.emit(ctx, ConfigLockedEvent{Admin: cfg.Admin})
	return cfg, nil
}

// TransferAdmin hands governance to newAdmin. It is allowed while locked.
func (g *Governor) TransferAdmin(ctx context.Context, caller, newAdmin solana.PublicKey) (*Config, error) {
	var oldAdmin solana.PublicKey
	cfg, err := g.mutate(ctx, "transfer_admin", caller, func(cfg *Config) error {
		oldAdmin = cfg.Admin
		cfg.Admin = newAdmin
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("settlement/governor: admin transferred", "old_admin", oldAdmin.String(), "new_admin", newAdmin.String())
	g.emit(ctx, AdminTransferred{OldAdmin: oldAdmin, NewAdmin: newAdmin})
	return cfg, nil
}

// RegisterTokenAccount records the state of a token account in the ledger
// settlements transfer against. Only the admin may register accounts.
func (g *Governor) RegisterTokenAccount(ctx context.Context, caller solana.PublicKey, acct TokenAccount) (*TokenAccount, error) {
	if acct.Address.IsZero() || acct.Mint.IsZero() || acct.Owner.IsZero() {
		metrics.RecordGovernance("register_token_account", errorCode(ErrInvalidAccount))
		return nil, ErrInvalidAccount
	}
	err := g.cfg.Store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if !cfg.Admin.Equals(caller) {
			return ErrUnauthorized
		}
		return tx.PutTokenAccount(ctx, acct)
	})
	metrics.RecordGovernance("register_token_account", errorCode(err))
	if err != nil {
		return nil, err
	}

	g.log.Info("settlement/governor: token account registered",
		"address", acct.Address.String(), "mint", acct.Mint.String(), "owner", acct.Owner.String(), "amount", acct.Amount)
	g.emit(ctx, AccountRegistered{TokenAccount: acct})
	return &acct, nil
}

func (g *Governor) mutate(ctx context.Context, op string, caller solana.PublicKey, fn func(cfg *Config) error) (*Config, error) {
	var out *Config
	err := g.cfg.Store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if !cfg.Admin.Equals(caller) {
			return ErrUnauthorized
		}
		if err := fn(cfg); err != nil {
			return err
		}
		if err := tx.UpdateConfig(ctx, cfg); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	metrics.RecordGovernance(op, errorCode(err))
	if err != nil {
		g.log.Debug("settlement/governor: operation rejected", "operation", op, "caller", caller.String(), "error", err)
		return nil, err
	}
	return out, nil
}

func (g *Governor) emit(ctx context.Context, p Payload) {
	g.cfg.Events.Emit(ctx, newEvent(g.cfg.Clock.Now(), p))
}
