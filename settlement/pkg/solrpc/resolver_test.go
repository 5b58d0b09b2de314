package solrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	"github.com/samu-project/rewards/utils/pkg/retry"
	rewardstesting "github.com/samu-project/rewards/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type mockRPC struct {
	calls           int
	getAccountInfoF func(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
}

func (m *mockRPC) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error) {
	m.calls++
	return m.getAccountInfoF(ctx, account)
}

func encodeTokenAccount(t *testing.T, state token.Account) []byte {
	t.Helper()
	data, err := bin.MarshalBin(&state)
	require.NoError(t, err)
	return data
}

func newTestResolver(t *testing.T, rpc RPC) *Resolver {
	t.Helper()
	r, err := NewResolver(Config{
		Logger: rewardstesting.NewLogger(),
		RPC:    rpc,
		Retry:  retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	return r
}

func TestSettlement_SolRPC_Resolver(t *testing.T) {
	t.Parallel()

	address := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	t.Run("decodes spl token accounts", func(t *testing.T) {
		t.Parallel()
		data := encodeTokenAccount(t, token.Account{Mint: mint, Owner: owner, Amount: 123_456, State: token.Initialized})
		rpc := &mockRPC{getAccountInfoF: func(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
			require.Equal(t, address, account)
			return &solanarpc.GetAccountInfoResult{Value: &solanarpc.Account{
				Owner: solana.TokenProgramID,
				Data:  solanarpc.DataBytesOrJSONFromBytes(data),
			}}, nil
		}}

		acct, err := newTestResolver(t, rpc).TokenAccount(t.Context(), address)
		require.NoError(t, err)
		require.Equal(t, rewards.TokenAccount{Address: address, Mint: mint, Owner: owner, Amount: 123_456}, *acct)
	})

	t.Run("missing account", func(t *testing.T) {
		t.Parallel()
		rpc := &mockRPC{getAccountInfoF: func(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
			return nil, solanarpc.ErrNotFound
		}}
		_, err := newTestResolver(t, rpc).TokenAccount(t.Context(), address)
		require.ErrorIs(t, err, rewards.ErrAccountNotFound)
		require.Equal(t, 1, rpc.calls)
	})

	t.Run("rejects accounts of other programs", func(t *testing.T) {
		t.Parallel()
		rpc := &mockRPC{getAccountInfoF: func(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
			return &solanarpc.GetAccountInfoResult{Value: &solanarpc.Account{
				Owner: solana.SystemProgramID,
				Data:  solanarpc.DataBytesOrJSONFromBytes(nil),
			}}, nil
		}}
		_, err := newTestResolver(t, rpc).TokenAccount(t.Context(), address)
		require.ErrorIs(t, err, ErrNotTokenAccount)
	})

	t.Run("retries transient rpc failures", func(t *testing.T) {
		t.Parallel()
		data := encodeTokenAccount(t, token.Account{Mint: mint, Owner: owner, Amount: 1})
		rpc := &mockRPC{}
		rpc.getAccountInfoF = func(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
			if rpc.calls < 3 {
				return nil, errors.New("429 too many requests")
			}
			return &solanarpc.GetAccountInfoResult{Value: &solanarpc.Account{
				Owner: solana.TokenProgramID,
				Data:  solanarpc.DataBytesOrJSONFromBytes(data),
			}}, nil
		}
		acct, err := newTestResolver(t, rpc).TokenAccount(t.Context(), address)
		require.NoError(t, err)
		require.Equal(t, uint64(1), acct.Amount)
		require.Equal(t, 3, rpc.calls)
	})
}

func TestSettlement_SolRPC_NewResolver(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = NewResolver(Config{Logger: rewardstesting.NewLogger()})
	require.ErrorContains(t, err, "rpc client is required")
}
