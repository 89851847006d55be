package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of minor units in one display unit.
const LamportsPerSOL uint64 = 1_000_000_000

var lamportsPerSOL = decimal.NewFromInt(int64(LamportsPerSOL))

// SOLToLamports converts a display amount to lamports, rounding down.
func SOLToLamports(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidInput, sol)
	}
	l := sol.Mul(lamportsPerSOL).Floor()
	bi := l.BigInt()
	if !bi.IsUint64() {
		return 0, ErrMathOverflow
	}
	return bi.Uint64(), nil
}

// LamportsToSOL converts lamports to an exact display amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

// FormatSOL renders lamports as a display string, e.g. "1.5 SOL".
func FormatSOL(lamports uint64) string {
	return LamportsToSOL(lamports).String() + " SOL"
}
