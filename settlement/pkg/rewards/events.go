package rewards

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/samu-project/rewards/settlement/pkg/metrics"
)

type EventType string

const (
	EventConfigInitialized  EventType = "config_initialized"
	EventSharesUpdated      EventType = "shares_updated"
	EventConfigLocked       EventType = "config_locked"
	EventRewardsDistributed EventType = "rewards_distributed"
	EventAdminTransferred   EventType = "admin_transferred"
	EventAccountRegistered  EventType = "account_registered"
)

// Payload is the body of an emitted event.
type Payload interface {
	EventType() EventType
}

type ConfigInitialized struct {
	Admin      solana.PublicKey `json:"admin"`
	Treasury   solana.PublicKey `json:"treasury"`
	RewardMint solana.PublicKey `json:"reward_mint"`
	Shares
}

type SharesUpdated struct {
	Shares
}

type ConfigLockedEvent struct {
	Admin solana.PublicKey `json:"admin"`
}

type RewardsDistributed struct {
	ContestID         uint64    `json:"contest_id"`
	DistributionIndex uint8     `json:"distribution_index"`
	TotalAmount       uint64    `json:"total_amount"`
	DistributedTotal  uint64    `json:"distributed_total"`
	CreatorTotal      uint64    `json:"creator_total"`
	VoterTotal        uint64    `json:"voter_total"`
	NftHolderTotal    uint64    `json:"nft_holder_total"`
	PlatformTotal     uint64    `json:"platform_total"`
	RecipientCount    uint16    `json:"recipient_count"`
	Timestamp         time.Time `json:"timestamp"`
}

type AdminTransferred struct {
	OldAdmin solana.PublicKey `json:"old_admin"`
	NewAdmin solana.PublicKey `json:"new_admin"`
}

type AccountRegistered struct {
	TokenAccount
}

func (ConfigInitialized) EventType() EventType  { return EventConfigInitialized }
func (SharesUpdated) EventType() EventType      { return EventSharesUpdated }
func (ConfigLockedEvent) EventType() EventType  { return EventConfigLocked }
func (RewardsDistributed) EventType() EventType { return EventRewardsDistributed }
func (AdminTransferred) EventType() EventType   { return EventAdminTransferred }
func (AccountRegistered) EventType() EventType  { return EventAccountRegistered }

// Event is a committed state change delivered to observers.
type Event struct {
	ID      uuid.UUID
	Time    time.Time
	Payload Payload
}

func (e Event) Type() EventType { return e.Payload.EventType() }

func newEvent(now time.Time, p Payload) Event {
	return Event{ID: uuid.New(), Time: now.UTC(), Payload: p}
}

// EventSink receives events after the change that produced them has committed.
// Delivery is fire-and-forget; sinks must not block settlement.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

func (f EventSinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// MultiSink fans events out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, event Event) {
	s.Logger.InfoContext(ctx, "settlement/events: emitted",
		"event_id", event.ID.String(),
		"type", string(event.Type()),
		"payload", event.Payload,
	)
}

// AsyncSink hands events to a slower sink from a background worker. Events
// emitted while the buffer is full are dropped and counted.
type AsyncSink struct {
	name   string
	log    *slog.Logger
	sink   EventSink
	events chan Event
}

func NewAsyncSink(log *slog.Logger, name string, sink EventSink, size int) *AsyncSink {
	if size <= 0 {
		size = 1024
	}
	return &AsyncSink{name: name, log: log, sink: sink, events: make(chan Event, size)}
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	default:
		metrics.EventSinkErrorsTotal.WithLabelValues(s.name).Inc()
		s.log.Warn("settlement/events: buffer full, dropping event",
			"sink", s.name, "event_id", event.ID.String(), "type", string(event.Type()))
	}
}

// Run delivers buffered events until ctx is done, then drains the buffer
// with a detached context.
func (s *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case event := <-s.events:
					s.sink.Emit(drainCtx, event)
				default:
					return nil
				}
			}
		case event := <-s.events:
			s.sink.Emit(ctx, event)
		}
	}
}
