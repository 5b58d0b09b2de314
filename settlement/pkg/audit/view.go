package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samu-project/rewards/settlement/pkg/clickhouse"
	"github.com/samu-project/rewards/settlement/pkg/dberror"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
)

type ViewConfig struct {
	Logger *slog.Logger
	Client clickhouse.Client
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	return nil
}

// View answers dashboard queries over the audit tables.
type View struct {
	log *slog.Logger
	cfg ViewConfig
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &View{log: cfg.Logger, cfg: cfg}, nil
}

// Stats are lifetime totals across every settlement.
type Stats struct {
	Distributions    uint64             `json:"distributions"`
	TotalAmount      uint64             `json:"total_amount"`
	DistributedTotal uint64             `json:"distributed_total"`
	Roles            rewards.RoleTotals `json:"roles"`
	Recipients       uint64             `json:"recipients"`
	LastSettledAt    *time.Time         `json:"last_settled_at,omitempty"`
}

func (v *View) Stats(ctx context.Context) (*Stats, error) {
	return dberror.Retry(ctx, dberror.DefaultRetryConfig(), func() (*Stats, error) {
		row := v.cfg.Client.QueryRow(ctx, `
			SELECT
				count(),
				sum(total_amount),
				sum(distributed_total),
				sum(creator_total),
				sum(voter_total),
				sum(nft_holder_total),
				sum(platform_total),
				sum(toUInt64(recipient_count)),
				max(settled_at)
			FROM settlement_distributions FINAL`)

		var (
			s    Stats
			last time.Time
		)
		if err := row.Scan(&s.Distributions, &s.TotalAmount, &s.DistributedTotal,
			&s.Roles.Creator, &s.Roles.Voter, &s.Roles.NftHolder, &s.Roles.Platform,
			&s.Recipients, &last); err != nil {
			return nil, fmt.Errorf("failed to query stats: %w", err)
		}
		if s.Distributions > 0 {
			last = last.UTC()
			s.LastSettledAt = &last
		}
		return &s, nil
	})
}

// EventRow is a stored event with its payload as JSON.
type EventRow struct {
	ID      uuid.UUID `json:"id"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload string    `json:"payload"`
}

// RecentEvents returns up to limit events, newest first.
func (v *View) RecentEvents(ctx context.Context, limit int) ([]EventRow, error) {
	rows, err := v.cfg.Client.Query(ctx, `
		SELECT event_id, event_type, event_time, payload
		FROM settlement_events
		ORDER BY event_time DESC, event_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.Type, &e.Time, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
