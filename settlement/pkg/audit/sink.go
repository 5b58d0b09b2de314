package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samu-project/rewards/settlement/pkg/clickhouse"
	"github.com/samu-project/rewards/settlement/pkg/metrics"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
)

const sinkName = "clickhouse"

type SinkConfig struct {
	Logger *slog.Logger
	Client clickhouse.Client
}

func (cfg *SinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	return nil
}

// Sink writes events to ClickHouse. Emit blocks on the insert; wrap it in a
// rewards.AsyncSink to keep it off the settlement path.
type Sink struct {
	log *slog.Logger
	cfg SinkConfig
}

func NewSink(cfg SinkConfig) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Sink) Emit(ctx context.Context, event rewards.Event) {
	if err := s.Write(ctx, event); err != nil {
		metrics.EventSinkErrorsTotal.WithLabelValues(sinkName).Inc()
		s.log.Error("audit: failed to write event", "event_id", event.ID.String(), "type", string(event.Type()), "error", err)
	}
}

// Write inserts one event synchronously.
func (s *Sink) Write(ctx context.Context, event rewards.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	ctx = clickhouse.ContextWithSyncInsert(ctx)

	if err := s.cfg.Client.Exec(ctx,
		`INSERT INTO settlement_events (event_id, event_type, event_time, payload) VALUES (?, ?, ?, ?)`,
		event.ID, string(event.Type()), event.Time, string(payload),
	); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	d, ok := event.Payload.(rewards.RewardsDistributed)
	if !ok {
		return nil
	}
	if err := s.cfg.Client.Exec(ctx, `
		INSERT INTO settlement_distributions (contest_id, distribution_index, total_amount, distributed_total,
			creator_total, voter_total, nft_holder_total, platform_total, recipient_count, settled_at, event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ContestID, d.DistributionIndex, d.TotalAmount, d.DistributedTotal,
		d.CreatorTotal, d.VoterTotal, d.NftHolderTotal, d.PlatformTotal, d.RecipientCount, d.Timestamp, event.ID,
	); err != nil {
		return fmt.Errorf("failed to insert distribution: %w", err)
	}
	return nil
}
