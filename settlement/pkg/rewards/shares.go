package rewards

import "fmt"

// BasisPointsDenominator is the value the four shares must sum to.
const BasisPointsDenominator = 10_000

// Shares holds the per-role split in basis points.
type Shares struct {
	Creator   uint16 `json:"creator_share"`
	Voter     uint16 `json:"voter_share"`
	NftHolder uint16 `json:"nft_holder_share"`
	Platform  uint16 `json:"platform_share"`
}

// Get returns the share configured for role.
func (s Shares) Get(role Role) uint16 {
	switch role {
	case RoleCreator:
		return s.Creator
	case RoleVoter:
		return s.Voter
	case RoleNftHolder:
		return s.NftHolder
	case RolePlatform:
		return s.Platform
	}
	return 0
}

// Total sums the shares without wrapping.
func (s Shares) Total() uint32 {
	return uint32(s.Creator) + uint32(s.Voter) + uint32(s.NftHolder) + uint32(s.Platform)
}

// Validate returns ErrInvalidShareTotal unless the shares sum to exactly 10000.
func (s Shares) Validate() error {
	if s.Total() != BasisPointsDenominator {
		return fmt.Errorf("%w: got %d", ErrInvalidShareTotal, s.Total())
	}
	return nil
}
