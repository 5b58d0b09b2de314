package rewards

import (
	"fmt"
	"math/bits"
)

// ToleranceBPS is the default allowed deviation of each role total from its
// expected value, in basis points of the declared pool size. Integer division
// of each expected amount loses up to one unit per role.
const ToleranceBPS uint16 = 10

// TolerancePolicy is the deviation band applied by the engine.
type TolerancePolicy struct {
	BPS uint16
}

// DefaultTolerancePolicy returns the 0.10% band.
func DefaultTolerancePolicy() TolerancePolicy {
	return TolerancePolicy{BPS: ToleranceBPS}
}

func (p TolerancePolicy) Validate() error {
	if p.BPS > BasisPointsDenominator {
		return fmt.Errorf("tolerance must be at most %d bps, got %d", BasisPointsDenominator, p.BPS)
	}
	return nil
}

// Band returns the absolute tolerance for a pool of total units.
func (p TolerancePolicy) Band(total uint64) (uint64, error) {
	return mulDivBPS(total, p.BPS)
}

// ExpectedAmount returns total*bps/10000 computed in 128 bits.
func ExpectedAmount(total uint64, bps uint16) (uint64, error) {
	return mulDivBPS(total, bps)
}

// WithinTolerance reports whether |actual-expected| <= tolerance.
func WithinTolerance(actual, expected, tolerance uint64) bool {
	if actual > expected {
		return actual-expected <= tolerance
	}
	return expected-actual <= tolerance
}

func mulDivBPS(amount uint64, bps uint16) (uint64, error) {
	hi, lo := bits.Mul64(amount, uint64(bps))
	if hi >= BasisPointsDenominator {
		return 0, fmt.Errorf("%w: %d * %d / %d", ErrArithmeticOverflow, amount, bps, BasisPointsDenominator)
	}
	q, _ := bits.Div64(hi, lo, BasisPointsDenominator)
	return q, nil
}
