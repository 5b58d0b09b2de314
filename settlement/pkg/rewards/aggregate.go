package rewards

import (
	"fmt"
	"math/bits"
)

// RoleTotals holds the per-role sums of a recipient list.
type RoleTotals struct {
	Creator   uint64 `json:"creator_total"`
	Voter     uint64 `json:"voter_total"`
	NftHolder uint64 `json:"nft_holder_total"`
	Platform  uint64 `json:"platform_total"`
}

// Get returns the total for role.
func (t RoleTotals) Get(role Role) uint64 {
	switch role {
	case RoleCreator:
		return t.Creator
	case RoleVoter:
		return t.Voter
	case RoleNftHolder:
		return t.NftHolder
	case RolePlatform:
		return t.Platform
	}
	return 0
}

func (t *RoleTotals) add(role Role, amount uint64) error {
	var slot *uint64
	switch role {
	case RoleCreator:
		slot = &t.Creator
	case RoleVoter:
		slot = &t.Voter
	case RoleNftHolder:
		slot = &t.NftHolder
	case RolePlatform:
		slot = &t.Platform
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRole, uint8(role))
	}
	sum, err := checkedAdd(*slot, amount)
	if err != nil {
		return fmt.Errorf("%s total: %w", role, err)
	}
	*slot = sum
	return nil
}

// Sum adds the four role totals.
func (t RoleTotals) Sum() (uint64, error) {
	var sum uint64
	for _, role := range Roles {
		var err error
		if sum, err = checkedAdd(sum, t.Get(role)); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

// Aggregate is the result of grouping a recipient list by role.
type Aggregate struct {
	Totals           RoleTotals
	DistributedTotal uint64
	// Paid holds the recipients with a non-zero amount, in input order.
	Paid []Recipient
}

// AggregateRecipients sums amounts per role and filters out zero-amount
// recipients. Zero-amount entries still count as present for role bookkeeping.
func AggregateRecipients(recipients []Recipient) (Aggregate, error) {
	var agg Aggregate
	agg.Paid = make([]Recipient, 0, len(recipients))
	for i, r := range recipients {
		if err := agg.Totals.add(r.Role, r.Amount); err != nil {
			return Aggregate{}, fmt.Errorf("recipient %d: %w", i, err)
		}
		if r.Amount > 0 {
			agg.Paid = append(agg.Paid, r)
		}
	}

	total, err := agg.Totals.Sum()
	if err != nil {
		return Aggregate{}, fmt.Errorf("distributed total: %w", err)
	}
	if total == 0 {
		return Aggregate{}, ErrInvalidAmount
	}
	agg.DistributedTotal = total
	return agg, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return sum, nil
}
