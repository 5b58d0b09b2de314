// Package pgstore keeps settlement state in PostgreSQL. Every Atomic call is a
// serializable transaction; serialization failures are retried and surface as
// rewards.ErrConflict when retries run out.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samu-project/rewards/settlement/pkg/dberror"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	"github.com/samu-project/rewards/utils/pkg/retry"
)

const pgUniqueViolation = "23505"

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Retry  retry.Config
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = dberror.DefaultRetryConfig()
	}
	cfg.Retry.Retryable = RetryableTx
	return nil
}

// RetryableTx reports whether a failed transaction may be replayed. Only
// serialization failures and deadlocks qualify; settlement errors never do,
// whatever their message contains.
func RetryableTx(err error) bool {
	if _, ok := rewards.AsError(err); ok {
		return false
	}
	return dberror.IsSerializationFailure(err)
}

type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx rewards.Tx) error) error {
	_, err := dberror.Retry(ctx, s.cfg.Retry, func() (struct{}, error) {
		return struct{}{}, pgx.BeginTxFunc(ctx, s.cfg.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(pgxTx pgx.Tx) error {
			return fn(ctx, &tx{tx: pgxTx})
		})
	})
	if dberror.IsSerializationFailure(err) {
		s.log.Warn("pgstore: transaction conflict", "error", err)
		return fmt.Errorf("%w: %w", rewards.ErrConflict, err)
	}
	return err
}

func (s *Store) Config(ctx context.Context) (*rewards.Config, error) {
	return selectConfig(ctx, s.cfg.Pool, false)
}

func (s *Store) Record(ctx context.Context, contestID uint64, index uint8) (*rewards.DistributionRecord, error) {
	row := s.cfg.Pool.QueryRow(ctx, selectRecordSQL+` WHERE contest_id = $1 AND distribution_index = $2`,
		int64(contestID), int16(index))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rewards.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *Store) Records(ctx context.Context, limit, offset int) ([]rewards.DistributionRecord, error) {
	rows, err := s.cfg.Pool.Query(ctx, selectRecordSQL+` ORDER BY seq DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []rewards.DistributionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out, nil
}

// TokenAccount returns the committed state of a token account.
func (s *Store) TokenAccount(ctx context.Context, address solana.PublicKey) (*rewards.TokenAccount, error) {
	return selectTokenAccount(ctx, s.cfg.Pool, address, false)
}

// PutTokenAccount creates or replaces a token account outside a settlement.
func (s *Store) PutTokenAccount(ctx context.Context, acct rewards.TokenAccount) error {
	return upsertTokenAccount(ctx, s.cfg.Pool, acct)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertTokenAccount(ctx context.Context, e execer, acct rewards.TokenAccount) error {
	_, err := e.Exec(ctx, `
		INSERT INTO token_accounts (address, mint, owner, amount) VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET mint = EXCLUDED.mint, owner = EXCLUDED.owner, amount = EXCLUDED.amount`,
		acct.Address.String(), acct.Mint.String(), acct.Owner.String(), int64(acct.Amount))
	if err != nil {
		return fmt.Errorf("failed to put token account: %w", err)
	}
	return nil
}

// Transfer is one executed token movement.
type Transfer struct {
	ContestID         *uint64
	DistributionIndex *uint8
	Source            solana.PublicKey
	Destination       solana.PublicKey
	Mint              solana.PublicKey
	Amount            uint64
	CreatedAt         time.Time
}

// Transfers lists the token movements executed for a settlement in order.
func (s *Store) Transfers(ctx context.Context, contestID uint64, index uint8) ([]Transfer, error) {
	rows, err := s.cfg.Pool.Query(ctx, `
		SELECT contest_id, distribution_index, source, destination, mint, amount, created_at
		FROM token_transfers WHERE contest_id = $1 AND distribution_index = $2 ORDER BY id`,
		int64(contestID), int16(index))
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var (
			contest        *int64
			idx            *int16
			src, dst, mint string
			amount         int64
			t              Transfer
		)
		if err := rows.Scan(&contest, &idx, &src, &dst, &mint, &amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if contest != nil {
			c := uint64(*contest)
			t.ContestID = &c
		}
		if idx != nil {
			i := uint8(*idx)
			t.DistributionIndex = &i
		}
		if err := parseKeys(map[*solana.PublicKey]string{&t.Source: src, &t.Destination: dst, &t.Mint: mint}); err != nil {
			return nil, err
		}
		t.Amount = uint64(amount)
		out = append(out, t)
	}
	return out, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tx struct {
	tx pgx.Tx
	// record is the settlement created in this transaction, if any. Transfers
	// are attributed to it.
	record *rewards.DistributionRecord
}

func (t *tx) TokenAccount(ctx context.Context, address solana.PublicKey) (*rewards.TokenAccount, error) {
	return selectTokenAccount(ctx, t.tx, address, false)
}

func (t *tx) Config(ctx context.Context) (*rewards.Config, error) {
	return selectConfig(ctx, t.tx, true)
}

func (t *tx) CreateConfig(ctx context.Context, cfg *rewards.Config) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO rewards_config (id, address, admin, treasury, reward_mint,
			creator_share, voter_share, nft_holder_share, platform_share,
			total_distributions, total_distributed_amount, is_locked, bump, version)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)`,
		cfg.Address.String(), cfg.Admin.String(), cfg.Treasury.String(), cfg.RewardMint.String(),
		int32(cfg.Shares.Creator), int32(cfg.Shares.Voter), int32(cfg.Shares.NftHolder), int32(cfg.Shares.Platform),
		int64(cfg.TotalDistributions), int64(cfg.TotalDistributedAmount), cfg.IsLocked, int16(cfg.Bump))
	if isUniqueViolation(err) {
		return rewards.ErrAlreadyInitialized
	}
	if err != nil {
		return fmt.Errorf("failed to insert config: %w", err)
	}
	cfg.Version = 1
	return nil
}

func (t *tx) UpdateConfig(ctx context.Context, cfg *rewards.Config) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE rewards_config SET
			admin = $1, treasury = $2, reward_mint = $3,
			creator_share = $4, voter_share = $5, nft_holder_share = $6, platform_share = $7,
			total_distributions = $8, total_distributed_amount = $9, is_locked = $10,
			version = version + 1
		WHERE id = 1 AND version = $11`,
		cfg.Admin.String(), cfg.Treasury.String(), cfg.RewardMint.String(),
		int32(cfg.Shares.Creator), int32(cfg.Shares.Voter), int32(cfg.Shares.NftHolder), int32(cfg.Shares.Platform),
		int64(cfg.TotalDistributions), int64(cfg.TotalDistributedAmount), cfg.IsLocked, int64(cfg.Version))
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := selectConfig(ctx, t.tx, false); err != nil {
			return err
		}
		return rewards.ErrConflict
	}
	cfg.Version++
	return nil
}

func (t *tx) CreateRecord(ctx context.Context, r *rewards.DistributionRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO distribution_records (contest_id, distribution_index, address,
			total_amount, distributed_total, creator_total, voter_total, nft_holder_total, platform_total,
			recipient_count, settled_at, admin, bump)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		int64(r.ContestID), int16(r.DistributionIndex), r.Address.String(),
		int64(r.TotalAmount), int64(r.DistributedTotal),
		int64(r.CreatorTotal), int64(r.VoterTotal), int64(r.NftHolderTotal), int64(r.PlatformTotal),
		int32(r.RecipientCount), r.Timestamp, r.Admin.String(), int16(r.Bump))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: contest %d index %d", rewards.ErrRecordExists, r.ContestID, r.DistributionIndex)
	}
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	t.record = r
	return nil
}

func (t *tx) PutTokenAccount(ctx context.Context, acct rewards.TokenAccount) error {
	return upsertTokenAccount(ctx, t.tx, acct)
}

func (t *tx) Transfer(ctx context.Context, req rewards.TransferRequest) error {
	src, err := selectTokenAccount(ctx, t.tx, req.Source, true)
	if err != nil {
		return err
	}
	dst, err := selectTokenAccount(ctx, t.tx, req.Destination, true)
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
	if !src.Address.Equals(dst.Address) {
		if dst.Amount+req.Amount < dst.Amount {
			return rewards.ErrArithmeticOverflow
		}
		if err := t.setAmount(ctx, src.Address, src.Amount-req.Amount); err != nil {
			return err
		}
		if err := t.setAmount(ctx, dst.Address, dst.Amount+req.Amount); err != nil {
			return err
		}
	}

	var contestID *int64
	var index *int16
	if t.record != nil {
		c, i := int64(t.record.ContestID), int16(t.record.DistributionIndex)
		contestID, index = &c, &i
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO token_transfers (contest_id, distribution_index, source, destination, mint, amount)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		contestID, index, req.Source.String(), req.Destination.String(), req.Mint.String(), int64(req.Amount))
	if err != nil {
		return fmt.Errorf("%w: %w", rewards.ErrTransferFailed, err)
	}
	return nil
}

func (t *tx) setAmount(ctx context.Context, address solana.PublicKey, amount uint64) error {
	_, err := t.tx.Exec(ctx, `UPDATE token_accounts SET amount = $1 WHERE address = $2`, int64(amount), address.String())
	if err != nil {
		return fmt.Errorf("%w: %w", rewards.ErrTransferFailed, err)
	}
	return nil
}

func selectConfig(ctx context.Context, q querier, forUpdate bool) (*rewards.Config, error) {
	query := `
		SELECT address, admin, treasury, reward_mint,
			creator_share, voter_share, nft_holder_share, platform_share,
			total_distributions, total_distributed_amount, is_locked, bump, version
		FROM rewards_config WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		address, admin, treasury, mint string
		creator, voter, nft, platform  int32
		count, amount, version         int64
		bump                           int16
		cfg                            rewards.Config
	)
	err := q.QueryRow(ctx, query).Scan(&address, &admin, &treasury, &mint,
		&creator, &voter, &nft, &platform, &count, &amount, &cfg.IsLocked, &bump, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rewards.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if err := parseKeys(map[*solana.PublicKey]string{
		&cfg.Address: address, &cfg.Admin: admin, &cfg.Treasury: treasury, &cfg.RewardMint: mint,
	}); err != nil {
		return nil, err
	}
	cfg.Shares = rewards.Shares{Creator: uint16(creator), Voter: uint16(voter), NftHolder: uint16(nft), Platform: uint16(platform)}
	cfg.TotalDistributions = uint64(count)
	cfg.TotalDistributedAmount = uint64(amount)
	cfg.Bump = uint8(bump)
	cfg.Version = uint64(version)
	return &cfg, nil
}

func selectTokenAccount(ctx context.Context, q querier, address solana.PublicKey, forUpdate bool) (*rewards.TokenAccount, error) {
	query := `SELECT mint, owner, amount FROM token_accounts WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		mint, owner string
		amount      int64
	)
	err := q.QueryRow(ctx, query, address.String()).Scan(&mint, &owner, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rewards.ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token account: %w", err)
	}
	acct := rewards.TokenAccount{Address: address, Amount: uint64(amount)}
	if err := parseKeys(map[*solana.PublicKey]string{&acct.Mint: mint, &acct.Owner: owner}); err != nil {
		return nil, err
	}
	return &acct, nil
}

const selectRecordSQL = `
	SELECT contest_id, distribution_index, address, total_amount, distributed_total,
		creator_total, voter_total, nft_holder_total, platform_total,
		recipient_count, settled_at, admin, bump
	FROM distribution_records`

func scanRecord(row pgx.Row) (*rewards.DistributionRecord, error) {
	var (
		contestID, total, distributed, creator, voter, nft, platform int64
		index, bump                                                  int16
		count                                                        int32
		address, admin                                               string
		r                                                            rewards.DistributionRecord
	)
	if err := row.Scan(&contestID, &index, &address, &total, &distributed,
		&creator, &voter, &nft, &platform, &count, &r.Timestamp, &admin, &bump); err != nil {
		return nil, err
	}
	if err := parseKeys(map[*solana.PublicKey]string{&r.Address: address, &r.Admin: admin}); err != nil {
		return nil, err
	}
	r.ContestID = uint64(contestID)
	r.DistributionIndex = uint8(index)
	r.TotalAmount = uint64(total)
	r.DistributedTotal = uint64(distributed)
	r.CreatorTotal = uint64(creator)
	r.VoterTotal = uint64(voter)
	r.NftHolderTotal = uint64(nft)
	r.PlatformTotal = uint64(platform)
	r.RecipientCount = uint16(count)
	r.Timestamp = r.Timestamp.UTC()
	r.Bump = uint8(bump)
	return &r, nil
}

func parseKeys(keys map[*solana.PublicKey]string) error {
	for dst, s := range keys {
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return fmt.Errorf("failed to parse stored key %q: %w", s, err)
		}
		*dst = k
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
