package rewards_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/samu-project/rewards/settlement/pkg/rewards"
	rewardstesting "github.com/samu-project/rewards/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type ctxSink struct {
	mu     sync.Mutex
	events []rewards.Event
}

func (s *ctxSink) Emit(ctx context.Context, event rewards.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *ctxSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func distributedEvent(contestID uint64) rewards.Event {
	return rewards.Event{
		Time:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Payload: rewards.RewardsDistributed{ContestID: contestID},
	}
}

func TestSettlement_Events_MultiSink(t *testing.T) {
	t.Parallel()

	a, b := &ctxSink{}, &ctxSink{}
	var order []string
	sink := rewards.MultiSink{
		rewards.EventSinkFunc(func(ctx context.Context, event rewards.Event) { order = append(order, "first") }),
		nil,
		a,
		rewards.EventSinkFunc(func(ctx context.Context, event rewards.Event) { order = append(order, "last") }),
		b,
	}
	sink.Emit(context.Background(), distributedEvent(1))

	require.Equal(t, []string{"first", "last"}, order)
	require.Equal(t, 1, a.len())
	require.Equal(t, 1, b.len())
	require.Equal(t, rewards.EventRewardsDistributed, a.events[0].Type())
}

func TestSettlement_Events_LogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := rewards.LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	sink.Emit(context.Background(), distributedEvent(42))

	require.Contains(t, buf.String(), `"type":"rewards_distributed"`)
	require.Contains(t, buf.String(), `"contest_id":42`)
}

func TestSettlement_Events_AsyncSink(t *testing.T) {
	t.Parallel()

	t.Run("delivers in order", func(t *testing.T) {
		t.Parallel()

		inner := &ctxSink{}
		async := rewards.NewAsyncSink(rewardstesting.NewLogger(), "test", inner, 8)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- async.Run(ctx) }()

		for i := range 5 {
			async.Emit(ctx, distributedEvent(uint64(i)))
		}
		require.Eventually(t, func() bool { return inner.len() == 5 }, 5*time.Second, 10*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		for i, e := range inner.events {
			require.Equal(t, uint64(i), e.Payload.(rewards.RewardsDistributed).ContestID)
		}
	})

	t.Run("drops when full and drains on shutdown", func(t *testing.T) {
		t.Parallel()

		inner := &ctxSink{}
		async := rewards.NewAsyncSink(rewardstesting.NewLogger(), "test", inner, 2)
		ctx, cancel := context.WithCancel(context.Background())

		for i := range 4 {
			async.Emit(ctx, distributedEvent(uint64(i)))
		}
		cancel()
		require.NoError(t, async.Run(ctx))

		require.Equal(t, 2, inner.len())
	})
}

func TestSettlement_Events_EmittedByGovernor(t *testing.T) {
	t.Parallel()
	f := newInitializedFixture(t, 0)

	_, err := f.governor.TransferAdmin(t.Context(), f.admin, f.treasury)
	require.NoError(t, err)

	last := f.sink.Last()
	require.Equal(t, rewards.EventAdminTransferred, last.Type())
	require.Equal(t, f.treasury, last.Payload.(rewards.AdminTransferred).NewAdmin)
	require.Equal(t, f.clock.Now().UTC(), last.Time)
}
