package math

import (
	"math/big"
	"sync"
)

// NormalizedDecimals is the common fixed-point scale every deposit is
// converted to, regardless of the source asset's precision.
const NormalizedDecimals = 18

// BpsDenominator is the basis-point scale (10000 = 100%).
const BpsDenominator = 10_000

var (
	// One is 10^18, the normalized representation of 1.0.
	One = Pow10(NormalizedDecimals)

	bpsDenom = big.NewInt(BpsDenominator)
)

// bigIntPool recycles big.Ints used for intermediate calculations.
var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigIntPool.Put(v)
}

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Normalize converts an asset-native amount to the 18-fraction-digit scale:
// normalized = amount * 10^(18 - decimals). Assets with more than 18
// fraction digits are not registrable, so the exponent is never negative.
func Normalize(amount *big.Int, decimals uint8) *big.Int {
	if decimals >= NormalizedDecimals {
		return new(big.Int).Set(amount)
	}
	scale := Pow10(NormalizedDecimals - decimals)
	return scale.Mul(scale, amount)
}

// Denormalize converts a normalized amount back to asset-native precision.
// Division truncates; amounts produced by Normalize round-trip losslessly.
func Denormalize(amount *big.Int, decimals uint8) *big.Int {
	if decimals >= NormalizedDecimals {
		return new(big.Int).Set(amount)
	}
	scale := Pow10(NormalizedDecimals - decimals)
	return scale.Quo(amount, scale)
}

// MulDiv computes a * b / denom with truncating division.
// Truncation is the engine's documented rounding policy: payout remainders
// are never redistributed and accrue implicitly to the rake balance.
func MulDiv(a, b, denom *big.Int) *big.Int {
	prod := getBig().Mul(a, b)
	result := new(big.Int).Quo(prod, denom)
	putBig(prod)
	return result
}

// ApplyRake returns pool * (10000 - rakeBps) / 10000, truncating.
func ApplyRake(pool *big.Int, rakeBps uint16) *big.Int {
	keep := getBig().SetInt64(int64(BpsDenominator - int(rakeBps)))
	result := MulDiv(pool, keep, bpsDenom)
	putBig(keep)
	return result
}

// Multiplier returns the projected payout-per-unit for a side at the
// normalized scale: totalPool * (10000 - rakeBps) * 1e18 / (sideTotal * 10000).
// Conventions: 1e18 ("1.0x") for an empty pool, 0 for a non-empty pool whose
// side has no deposits.
func Multiplier(totalPool, sideTotal *big.Int, rakeBps uint16) *big.Int {
	if totalPool.Sign() == 0 {
		return new(big.Int).Set(One)
	}
	if sideTotal.Sign() == 0 {
		return new(big.Int)
	}

	num := getBig().Mul(totalPool, big.NewInt(int64(BpsDenominator-int(rakeBps))))
	num.Mul(num, One)
	denom := getBig().Mul(sideTotal, bpsDenom)

	result := new(big.Int).Quo(num, denom)
	putBig(num)
	putBig(denom)
	return result
}
