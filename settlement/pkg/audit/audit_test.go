package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/samu-project/rewards/settlement/pkg/audit"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	rewardstesting "github.com/samu-project/rewards/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var settledAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func distributed(contestID uint64, index uint8, at time.Time) rewards.Event {
	return rewards.Event{
		ID:   uuid.New(),
		Time: at,
		Payload: rewards.RewardsDistributed{
			ContestID:         contestID,
			DistributionIndex: index,
			TotalAmount:       10_000,
			DistributedTotal:  10_000,
			CreatorTotal:      5000,
			VoterTotal:        3000,
			NftHolderTotal:    1500,
			PlatformTotal:     500,
			RecipientCount:    4,
			Timestamp:         at,
		},
	}
}

func newSinkAndView(t *testing.T) (*audit.Sink, *audit.View) {
	t.Helper()
	client := testClient(t)
	sink, err := audit.NewSink(audit.SinkConfig{Logger: rewardstesting.NewLogger(), Client: client})
	require.NoError(t, err)
	view, err := audit.NewView(audit.ViewConfig{Logger: rewardstesting.NewLogger(), Client: client})
	require.NoError(t, err)
	return sink, view
}

func TestSettlement_Audit_Stats(t *testing.T) {
	t.Parallel()

	t.Run("empty ledger", func(t *testing.T) {
		t.Parallel()
		_, view := newSinkAndView(t)

		stats, err := view.Stats(t.Context())
		require.NoError(t, err)
		require.Zero(t, stats.Distributions)
		require.Nil(t, stats.LastSettledAt)
	})

	t.Run("sums settlements", func(t *testing.T) {
		t.Parallel()
		sink, view := newSinkAndView(t)

		require.NoError(t, sink.Write(t.Context(), distributed(1, 0, settledAt)))
		require.NoError(t, sink.Write(t.Context(), distributed(1, 1, settledAt.Add(time.Hour))))
		require.NoError(t, sink.Write(t.Context(), rewards.Event{
			ID: uuid.New(), Time: settledAt, Payload: rewards.ConfigLockedEvent{Admin: solana.NewWallet().PublicKey()},
		}))

		stats, err := view.Stats(t.Context())
		require.NoError(t, err)
		require.Equal(t, uint64(2), stats.Distributions)
		require.Equal(t, uint64(20_000), stats.DistributedTotal)
		require.Equal(t, rewards.RoleTotals{Creator: 10_000, Voter: 6000, NftHolder: 3000, Platform: 1000}, stats.Roles)
		require.Equal(t, uint64(8), stats.Recipients)
		require.NotNil(t, stats.LastSettledAt)
		require.True(t, settledAt.Add(time.Hour).Equal(*stats.LastSettledAt))
	})

	t.Run("a settlement key is counted once", func(t *testing.T) {
		t.Parallel()
		sink, view := newSinkAndView(t)

		require.NoError(t, sink.Write(t.Context(), distributed(5, 0, settledAt)))
		require.NoError(t, sink.Write(t.Context(), distributed(5, 0, settledAt)))

		stats, err := view.Stats(t.Context())
		require.NoError(t, err)
		require.Equal(t, uint64(1), stats.Distributions)
	})
}

func TestSettlement_Audit_RecentEvents(t *testing.T) {
	t.Parallel()
	sink, view := newSinkAndView(t)

	first := distributed(1, 0, settledAt)
	second := rewards.Event{ID: uuid.New(), Time: settledAt.Add(time.Minute), Payload: rewards.SharesUpdated{
		Shares: rewards.Shares{Creator: 2500, Voter: 2500, NftHolder: 2500, Platform: 2500},
	}}
	require.NoError(t, sink.Write(t.Context(), first))
	require.NoError(t, sink.Write(t.Context(), second))

	events, err := view.RecentEvents(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, second.ID, events[0].ID)
	require.Equal(t, string(rewards.EventSharesUpdated), events[0].Type)

	var payload rewards.RewardsDistributed
	require.NoError(t, json.Unmarshal([]byte(events[1].Payload), &payload))
	require.Equal(t, uint64(10_000), payload.DistributedTotal)
}

func TestSettlement_Audit_SinkRun(t *testing.T) {
	t.Parallel()
	sink, view := newSinkAndView(t)

	async := rewards.NewAsyncSink(rewardstesting.NewLogger(), "clickhouse", sink, 8)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- async.Run(ctx) }()

	for i := range uint8(3) {
		async.Emit(t.Context(), distributed(9, i, settledAt))
	}

	require.Eventually(t, func() bool {
		stats, err := view.Stats(t.Context())
		return err == nil && stats.Distributions == 3
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSettlement_Audit_NewSink(t *testing.T) {
	t.Parallel()

	_, err := audit.NewSink(audit.SinkConfig{})
	require.ErrorContains(t, err, "logger is required")
	_, err = audit.NewSink(audit.SinkConfig{Logger: rewardstesting.NewLogger()})
	require.ErrorContains(t, err, "clickhouse client is required")
}
