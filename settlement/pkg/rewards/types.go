package rewards

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// MaxRecipients is the largest recipient list accepted by a single settlement.
const MaxRecipients = 50

// Role is a payout category used to bucket recipients for ratio validation.
type Role uint8

const (
	RoleCreator Role = iota
	RoleVoter
	RoleNftHolder
	RolePlatform
)

// Roles lists every role in canonical order.
var Roles = [...]Role{RoleCreator, RoleVoter, RoleNftHolder, RolePlatform}

func (r Role) String() string {
	switch r {
	case RoleCreator:
		return "creator"
	case RoleVoter:
		return "voter"
	case RoleNftHolder:
		return "nft_holder"
	case RolePlatform:
		return "platform"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) Valid() bool { return r <= RolePlatform }

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole parses the text form of a role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "creator":
		return RoleCreator, nil
	case "voter":
		return RoleVoter, nil
	case "nft_holder":
		return RoleNftHolder, nil
	case "platform":
		return RolePlatform, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Config is the singleton share configuration of a deployment.
type Config struct {
	Address                solana.PublicKey `json:"address"`
	Admin                  solana.PublicKey `json:"admin"`
	Treasury               solana.PublicKey `json:"treasury"`
	RewardMint             solana.PublicKey `json:"reward_mint"`
	Shares                 Shares           `json:"shares"`
	TotalDistributions     uint64           `json:"total_distributions"`
	TotalDistributedAmount uint64           `json:"total_distributed_amount"`
	IsLocked               bool             `json:"is_locked"`
	Bump                   uint8            `json:"bump"`

	// Version is bumped by the store on every committed update and is used to
	// reject concurrent writers.
	Version uint64 `json:"version"`
}

// DistributionRecord is the immutable audit entry of one settlement.
type DistributionRecord struct {
	Address           solana.PublicKey `json:"address"`
	ContestID         uint64           `json:"contest_id"`
	DistributionIndex uint8            `json:"distribution_index"`
	TotalAmount       uint64           `json:"total_amount"`
	DistributedTotal  uint64           `json:"distributed_total"`
	CreatorTotal      uint64           `json:"creator_total"`
	VoterTotal        uint64           `json:"voter_total"`
	NftHolderTotal    uint64           `json:"nft_holder_total"`
	PlatformTotal     uint64           `json:"platform_total"`
	RecipientCount    uint16           `json:"recipient_count"`
	Timestamp         time.Time        `json:"timestamp"`
	Admin             solana.PublicKey `json:"admin"`
	Bump              uint8            `json:"bump"`
}

// Recipient is one intended payee of a settlement.
type Recipient struct {
	Wallet       solana.PublicKey `json:"wallet"`
	TokenAccount solana.PublicKey `json:"token_account"`
	Role         Role             `json:"role"`
	Amount       uint64           `json:"amount"`
}

// TokenAccount is the resolved state of a fungible token account.
type TokenAccount struct {
	Address solana.PublicKey `json:"address"`
	Mint    solana.PublicKey `json:"mint"`
	Owner   solana.PublicKey `json:"owner"`
	Amount  uint64           `json:"amount"`
}
