package domain

import "github.com/holiman/uint256"

// ComputePayout returns floor(stake * (home+away) / winning) where winning is
// the total on outcome's side. The product is taken in 256-bit arithmetic.
// It returns 0 when the winning side has no stake or outcome is pending.
func ComputePayout(stake, totalHome, totalAway uint64, outcome Outcome) (uint64, error) {
	var winning uint64
	switch outcome {
	case OutcomeHome:
		winning = totalHome
	case OutcomeAway:
		winning = totalAway
	default:
		return 0, nil
	}
	if winning == 0 {
		return 0, nil
	}

	total := new(uint256.Int).Add(uint256.NewInt(totalHome), uint256.NewInt(totalAway))
	out := new(uint256.Int).Mul(uint256.NewInt(stake), total)
	out.Div(out, uint256.NewInt(winning))
	if !out.IsUint64() {
		return 0, ErrMathOverflow
	}
	return out.Uint64(), nil
}

// Payout is the amount p receives from resolved market m.
func Payout(m Market, p Position) (uint64, error) {
	return ComputePayout(p.Stake, m.TotalHomeStake, m.TotalAwayStake, m.Outcome)
}
