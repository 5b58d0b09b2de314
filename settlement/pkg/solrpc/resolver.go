// Package solrpc resolves SPL token accounts from a Solana RPC node.
package solrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	"github.com/samu-project/rewards/utils/pkg/retry"
)

// ErrNotTokenAccount is returned for accounts not owned by the token program.
var ErrNotTokenAccount = errors.New("account is not an spl token account")

type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
}

type Config struct {
	Logger     *slog.Logger
	RPC        RPC
	Commitment solanarpc.CommitmentType
	Retry      retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentFinalized
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.Retry.Logger = cfg.Logger
	cfg.Retry.Operation = "solrpc/get_account_info"
	return nil
}

// Resolver implements rewards.AccountResolver against chain state.
type Resolver struct {
	log *slog.Logger
	cfg Config
}

var _ rewards.AccountResolver = (*Resolver)(nil)

func NewResolver(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Resolver) TokenAccount(ctx context.Context, address solana.PublicKey) (*rewards.TokenAccount, error) {
	out, err := retry.DoValue(ctx, r.cfg.Retry, func() (*solanarpc.GetAccountInfoResult, error) {
		return r.cfg.RPC.GetAccountInfoWithOpts(ctx, address, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: r.cfg.Commitment,
		})
	})
	if errors.Is(err, solanarpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", rewards.ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return decodeTokenAccount(address, out.Value)
}

func decodeTokenAccount(address solana.PublicKey, acct *solanarpc.Account) (*rewards.TokenAccount, error) {
	if !acct.Owner.Equals(solana.TokenProgramID) {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrNotTokenAccount, address, acct.Owner)
	}
	if acct.Data == nil {
		return nil, fmt.Errorf("%w: %s has no data", ErrNotTokenAccount, address)
	}
	var state token.Account
	if err := bin.NewBinDecoder(acct.Data.GetBinary()).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode token account %s: %w", address, err)
	}
	return &rewards.TokenAccount{
		Address: address,
		Mint:    state.Mint,
		Owner:   state.Owner,
		Amount:  state.Amount,
	}, nil
}
