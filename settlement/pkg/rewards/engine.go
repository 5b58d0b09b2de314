package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/samu-project/rewards/settlement/pkg/metrics"
)

// EngineConfig configures an Engine. Logger, Store and ProgramID are
// required; the other fields have defaults.
type EngineConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Store     Store
	Events    EventSink
	ProgramID solana.PublicKey
	// Tolerance defaults to DefaultTolerancePolicy when nil. A policy of
	// zero bps requires exact role totals.
	Tolerance *TolerancePolicy

	// Accounts resolves destination and pool accounts. When nil the store's
	// own view of the accounts is used.
	Accounts AccountResolver
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Tolerance == nil {
		policy := DefaultTolerancePolicy()
		cfg.Tolerance = &policy
	}
	if err := cfg.Tolerance.Validate(); err != nil {
		return err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Events == nil {
		cfg.Events = MultiSink{}
	}
	return nil
}

// Engine validates and executes settlements.
type Engine struct {
	log       *slog.Logger
	cfg       EngineConfig
	authority PoolAuthority
}

// NewEngine validates cfg and derives the pool authority from the program id.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	authority, err := NewPoolAuthority(cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	return &Engine{
		log:       cfg.Logger,
		cfg:       cfg,
		authority: authority,
	}, nil
}

// Authority returns the pool signing authority used for transfers.
func (e *Engine) Authority() PoolAuthority { return e.authority }

// DistributeParams is one settlement request. ContestID and
// DistributionIndex together key the record, so each pair settles once.
type DistributeParams struct {
	Caller            solana.PublicKey
	ContestID         uint64
	DistributionIndex uint8
	TotalAmount       uint64
	Recipients        []Recipient
	// DestinationAccounts must list the token accounts of the non-zero
	// recipients in the order they appear in Recipients.
	DestinationAccounts []solana.PublicKey
	// PoolAccount is the token account funds are drawn from. It must be owned
	// by the pool authority and hold the reward mint.
	PoolAccount solana.PublicKey
}

// Plan is a fully validated settlement that has not been executed.
type Plan struct {
	ContestID         uint64
	DistributionIndex uint8
	TotalAmount       uint64
	Aggregate         Aggregate
	Expected          RoleTotals
	Tolerance         uint64
	Destinations      []solana.PublicKey
	Pool              solana.PublicKey
	Mint              solana.PublicKey
	Admin             solana.PublicKey

	// resolved holds the destination and pool accounts as read by the
	// resolver, destinations first.
	resolved []TokenAccount
}

// Validate runs every settlement check against the current state without
// executing it.
func (e *Engine) Validate(ctx context.Context, p DistributeParams) (*Plan, error) {
	var plan *Plan
	err := e.cfg.Store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		plan, err = e.plan(ctx, e.resolver(tx), cfg, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Distribute validates a settlement completely, then creates its record,
// transfers every non-zero amount from the pool and updates the aggregate
// counters. Either all of it commits or none of it does.
func (e *Engine) Distribute(ctx context.Context, p DistributeParams) (*DistributionRecord, error) {
	start := time.Now()

	var record *DistributionRecord
	err := e.cfg.Store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		plan, err := e.plan(ctx, e.resolver(tx), cfg, p)
		if err != nil {
			return err
		}
		record, err = e.execute(ctx, tx, cfg, plan)
		return err
	})
	metrics.RecordDistribution(time.Since(start), errorCode(err))
	if err != nil {
		e.log.Warn("settlement/engine: distribution rejected",
			"contest_id", p.ContestID, "distribution_index", p.DistributionIndex, "error", err)
		return nil, err
	}
	metrics.DistributedAmountTotal.Add(float64(record.DistributedTotal))

	e.log.Info("settlement/engine: distribution settled",
		"contest_id", record.ContestID,
		"distribution_index", record.DistributionIndex,
		"distributed_total", record.DistributedTotal,
		"recipients", record.RecipientCount,
		"duration", time.Since(start).String(),
	)
	e.cfg.Events.Emit(ctx, newEvent(e.cfg.Clock.Now(), RewardsDistributed{
		ContestID:         record.ContestID,
		DistributionIndex: record.DistributionIndex,
		TotalAmount:       record.TotalAmount,
		DistributedTotal:  record.DistributedTotal,
		CreatorTotal:      record.CreatorTotal,
		VoterTotal:        record.VoterTotal,
		NftHolderTotal:    record.NftHolderTotal,
		PlatformTotal:     record.PlatformTotal,
		RecipientCount:    record.RecipientCount,
		Timestamp:         record.Timestamp,
	}))
	return record, nil
}

func (e *Engine) resolver(tx Tx) AccountResolver {
	if e.cfg.Accounts != nil {
		return e.cfg.Accounts
	}
	return tx
}

func (e *Engine) plan(ctx context.Context, accounts AccountResolver, cfg *Config, p DistributeParams) (*Plan, error) {
	if !cfg.Admin.Equals(p.Caller) {
		return nil, ErrUnauthorized
	}
	if p.TotalAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if len(p.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(p.Recipients) > MaxRecipients {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyRecipients, len(p.Recipients))
	}

	agg, err := AggregateRecipients(p.Recipients)
	if err != nil {
		return nil, err
	}
	if agg.DistributedTotal > p.TotalAmount {
		return nil, fmt.Errorf("%w: %d > %d", ErrExceedsTotal, agg.DistributedTotal, p.TotalAmount)
	}

	tolerance, err := e.cfg.Tolerance.Band(p.TotalAmount)
	if err != nil {
		return nil, err
	}
	var expected RoleTotals
	for _, role := range Roles {
		want, err := ExpectedAmount(p.TotalAmount, cfg.Shares.Get(role))
		if err != nil {
			return nil, err
		}
		if err := expected.add(role, want); err != nil {
			return nil, err
		}
		got := agg.Totals.Get(role)
		if !WithinTolerance(got, want, tolerance) {
			return nil, fmt.Errorf("%w: %s total %d, expected %d±%d", ErrShareMismatch, role, got, want, tolerance)
		}
	}

	if err := reconcile(agg.Paid, p.DestinationAccounts); err != nil {
		return nil, err
	}
	resolved := make([]TokenAccount, 0, len(agg.Paid)+1)
	for i, r := range agg.Paid {
		acct, err := accounts.TokenAccount(ctx, p.DestinationAccounts[i])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve destination %d: %w", i, err)
		}
		if !acct.Mint.Equals(cfg.RewardMint) {
			return nil, fmt.Errorf("%w: destination %d", ErrInvalidMint, i)
		}
		if !acct.Owner.Equals(r.Wallet) {
			return nil, fmt.Errorf("%w: destination %d", ErrInvalidTokenOwner, i)
		}
		resolved = append(resolved, *acct)
	}

	pool, err := accounts.TokenAccount(ctx, p.PoolAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pool account: %w", err)
	}
	if !pool.Mint.Equals(cfg.RewardMint) {
		return nil, fmt.Errorf("%w: pool account", ErrInvalidMint)
	}
	if !pool.Owner.Equals(e.authority.Address()) {
		return nil, ErrInvalidTreasury
	}
	resolved = append(resolved, *pool)

	return &Plan{
		ContestID:         p.ContestID,
		DistributionIndex: p.DistributionIndex,
		TotalAmount:       p.TotalAmount,
		Aggregate:         agg,
		Expected:          expected,
		Tolerance:         tolerance,
		Destinations:      p.DestinationAccounts,
		Pool:              p.PoolAccount,
		Mint:              cfg.RewardMint,
		Admin:             cfg.Admin,
		resolved:          resolved,
	}, nil
}

// reconcile matches destinations to paid recipients by position. A permutation
// of the right accounts is rejected.
func reconcile(paid []Recipient, destinations []solana.PublicKey) error {
	if len(destinations) != len(paid) {
		return fmt.Errorf("%w: %d accounts for %d recipients", ErrRecipientCountMismatch, len(destinations), len(paid))
	}
	for i, r := range paid {
		if !destinations[i].Equals(r.TokenAccount) {
			return fmt.Errorf("%w: position %d", ErrRecipientMismatch, i)
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, tx Tx, cfg *Config, plan *Plan) (*DistributionRecord, error) {
	addr, bump, err := DeriveDistributionPDA(e.cfg.ProgramID, plan.ContestID, plan.DistributionIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to derive record address: %w", err)
	}

	totals := plan.Aggregate.Totals
	record := &DistributionRecord{
		Address:           addr,
		ContestID:         plan.ContestID,
		DistributionIndex: plan.DistributionIndex,
		TotalAmount:       plan.TotalAmount,
		DistributedTotal:  plan.Aggregate.DistributedTotal,
		CreatorTotal:      totals.Creator,
		VoterTotal:        totals.Voter,
		NftHolderTotal:    totals.NftHolder,
		PlatformTotal:     totals.Platform,
		RecipientCount:    uint16(len(plan.Aggregate.Paid)),
		Timestamp:         e.cfg.Clock.Now().UTC().Truncate(time.Second),
		Admin:             plan.Admin,
		Bump:              bump,
	}
	if err := tx.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	// Accounts read from chain replace the ledger copies before transfers.
	if e.cfg.Accounts != nil {
		for _, acct := range plan.resolved {
			if err := tx.PutTokenAccount(ctx, acct); err != nil {
				return nil, fmt.Errorf("failed to mirror account %s: %w", acct.Address, err)
			}
		}
	}

	for i, r := range plan.Aggregate.Paid {
		if err := tx.Transfer(ctx, TransferRequest{
			Source:      plan.Pool,
			Destination: plan.Destinations[i],
			Mint:        plan.Mint,
			Authority:   e.authority,
			Amount:      r.Amount,
		}); err != nil {
			return nil, fmt.Errorf("failed to transfer to recipient %d: %w", i, err)
		}
	}

	if cfg.TotalDistributions, err = checkedAdd(cfg.TotalDistributions, 1); err != nil {
		return nil, err
	}
	if cfg.TotalDistributedAmount, err = checkedAdd(cfg.TotalDistributedAmount, record.DistributedTotal); err != nil {
		return nil, err
	}
	if err := tx.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return record, nil
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return "Unknown"
}
