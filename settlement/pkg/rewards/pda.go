package rewards

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	seedConfig       = []byte("config")
	seedDistribution = []byte("distribution")
)

// DeriveConfigPDA returns the address of the singleton config record.
func DeriveConfigPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedConfig}, programID)
}

// DeriveDistributionPDA returns the address of the record for a settlement key.
func DeriveDistributionPDA(programID solana.PublicKey, contestID uint64, index uint8) (solana.PublicKey, uint8, error) {
	contestBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(contestBytes, contestID)
	return solana.FindProgramAddress([][]byte{seedDistribution, contestBytes, {index}}, programID)
}

// PoolAuthority is the program-derived signing authority over the pool account.
// It can only be constructed from the program ID, so holding one proves the
// caller went through the deterministic derivation.
type PoolAuthority struct {
	programID solana.PublicKey
	address   solana.PublicKey
	bump      uint8
}

// NewPoolAuthority derives the authority from the fixed config seed.
func NewPoolAuthority(programID solana.PublicKey) (PoolAuthority, error) {
	if programID.IsZero() {
		return PoolAuthority{}, fmt.Errorf("program id is required")
	}
	addr, bump, err := DeriveConfigPDA(programID)
	if err != nil {
		return PoolAuthority{}, fmt.Errorf("failed to derive pool authority: %w", err)
	}
	return PoolAuthority{programID: programID, address: addr, bump: bump}, nil
}

func (a PoolAuthority) ProgramID() solana.PublicKey { return a.programID }
func (a PoolAuthority) Address() solana.PublicKey   { return a.address }
func (a PoolAuthority) Bump() uint8                 { return a.bump }
func (a PoolAuthority) IsZero() bool                { return a.address.IsZero() }

// SignerSeeds returns the seeds that re-derive the authority address.
func (a PoolAuthority) SignerSeeds() [][]byte {
	return [][]byte{seedConfig, {a.bump}}
}
