// internal/pricemath/pricemath.go
package pricemath

import (
	"errors"
	"math/big"
	"time"
)

// Typed math errors. Callers branch on these with errors.Is.
var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidExponent = errors.New("invalid exponent")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrOverflow        = errors.New("overflow")
	ErrUnderflow       = errors.New("underflow")
)

const (
	// MinExponent and MaxExponent bound the feed exponent range.
	MinExponent = -18
	MaxExponent = 18

	// BpsDenominator is the basis-point scale (10_000 = 100%).
	BpsDenominator = 10_000

	// NormalizedDecimals is the target fixed-point scale for normalized prices.
	NormalizedDecimals = 18

	// maxNormalizedBits caps normalized values at 256 bits (u256 semantics).
	maxNormalizedBits = 256
)

// WeightDenominator is the exact sum weights must reach in WeightedAverage (1e18).
var WeightDenominator = scalePow10(NormalizedDecimals)

// Snapshot is a validated price observation from an external feed.
// Immutable once constructed; a new snapshot replaces, never mutates, an old one.
type Snapshot struct {
	PriceID     string
	Price       int64  // Signed mantissa as published by the feed
	Confidence  uint64 // Feed confidence interval, same exponent as Price
	Exponent    int32  // Bounded [MinExponent, MaxExponent]
	Normalized  *big.Int // Price at 1e18 scale, always positive
	PublishTime time.Time
}

// scalePow10 returns 10^n as a big.Int.
func scalePow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Normalize converts a mantissa/exponent price to 1e18 fixed point.
// adj = exponent + 18: multiply by 10^adj when adj >= 0, otherwise floor-divide
// by 10^|adj|. A nonzero price that floors to zero is rejected with ErrUnderflow
// rather than silently clamped.
func Normalize(price int64, exponent int32) (*big.Int, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	if exponent < MinExponent || exponent > MaxExponent {
		return nil, ErrInvalidExponent
	}

	adj := int(exponent) + NormalizedDecimals
	result := big.NewInt(price)

	if adj >= 0 {
		result.Mul(result, scalePow10(adj))
	} else {
		result.Quo(result, scalePow10(-adj))
		if result.Sign() == 0 {
			return nil, ErrUnderflow
		}
	}

	if result.BitLen() > maxNormalizedBits {
		return nil, ErrOverflow
	}
	return result, nil
}

// NormalizeToPrecision is Normalize targeting an arbitrary power-of-ten scale
// instead of the fixed 1e18.
func NormalizeToPrecision(price int64, exponent int32, targetPrecision *big.Int) (*big.Int, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	if exponent < MinExponent || exponent > MaxExponent {
		return nil, ErrInvalidExponent
	}
	if targetPrecision == nil || targetPrecision.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	decimals, ok := powerOfTen(targetPrecision)
	if !ok {
		return nil, ErrInvalidPrice
	}

	adj := int(exponent) + decimals
	result := big.NewInt(price)

	if adj >= 0 {
		result.Mul(result, scalePow10(adj))
	} else {
		result.Quo(result, scalePow10(-adj))
		if result.Sign() == 0 {
			return nil, ErrUnderflow
		}
	}

	if result.BitLen() > maxNormalizedBits {
		return nil, ErrOverflow
	}
	return result, nil
}

// powerOfTen reports whether v is an exact power of ten, returning the exponent.
func powerOfTen(v *big.Int) (int, bool) {
	if v.Sign() <= 0 {
		return 0, false
	}
	ten := big.NewInt(10)
	rem := new(big.Int)
	cur := new(big.Int).Set(v)
	n := 0
	for cur.Cmp(big.NewInt(1)) > 0 {
		cur.QuoRem(cur, ten, rem)
		if rem.Sign() != 0 {
			return 0, false
		}
		n++
	}
	return n, true
}

// DrawdownBps returns the decline from previous to current in basis points,
// floored, clamped to [0, 10000]. A current at or above previous is 0.
func DrawdownBps(current, previous *big.Int) (int64, error) {
	if previous == nil || previous.Sign() == 0 {
		return 0, ErrDivisionByZero
	}
	if current == nil || current.Cmp(previous) >= 0 {
		return 0, nil
	}

	// floor((previous - current) * 10000 / previous)
	diff := new(big.Int).Sub(previous, current)
	diff.Mul(diff, big.NewInt(BpsDenominator))
	diff.Quo(diff, previous)

	bps := diff.Int64()
	if bps > BpsDenominator {
		bps = BpsDenominator
	}
	return bps, nil
}

// IsBelowThreshold reports whether the drawdown from previous to current
// meets or exceeds thresholdBps.
func IsBelowThreshold(current, previous *big.Int, thresholdBps int64) (bool, error) {
	if thresholdBps < 0 || thresholdBps > BpsDenominator {
		return false, ErrInvalidPrice
	}
	bps, err := DrawdownBps(current, previous)
	if err != nil {
		return false, err
	}
	return bps >= thresholdBps, nil
}

// PriceChangeBps returns the signed change from previous to current in basis
// points: positive for an increase, negative for a decrease. Magnitude is
// floored the same way as DrawdownBps but is not clamped on the upside.
func PriceChangeBps(current, previous *big.Int) (int64, error) {
	if previous == nil || previous.Sign() == 0 {
		return 0, ErrDivisionByZero
	}
	if current == nil {
		current = new(big.Int)
	}

	cmp := current.Cmp(previous)
	if cmp == 0 {
		return 0, nil
	}

	diff := new(big.Int)
	if cmp > 0 {
		diff.Sub(current, previous)
	} else {
		diff.Sub(previous, current)
	}
	diff.Mul(diff, big.NewInt(BpsDenominator))
	diff.Quo(diff, previous)

	// Downside is bounded by 10000; an unclamped upside can exceed int64.
	if !diff.IsInt64() {
		return 0, ErrOverflow
	}
	bps := diff.Int64()
	if cmp < 0 {
		if bps > BpsDenominator {
			bps = BpsDenominator
		}
		return -bps, nil
	}
	return bps, nil
}

// WeightedAverage computes Σ(price_i * weight_i) / 1e18. Lengths must match
// and weights must sum to exactly 1e18.
func WeightedAverage(prices, weights []*big.Int) (*big.Int, error) {
	if len(prices) == 0 || len(prices) != len(weights) {
		return nil, ErrInvalidPrice
	}

	weightSum := new(big.Int)
	for _, w := range weights {
		if w == nil || w.Sign() < 0 {
			return nil, ErrInvalidPrice
		}
		weightSum.Add(weightSum, w)
	}
	if weightSum.Cmp(WeightDenominator) != 0 {
		return nil, ErrInvalidPrice
	}

	acc := new(big.Int)
	term := new(big.Int)
	for i, p := range prices {
		if p == nil || p.Sign() < 0 {
			return nil, ErrInvalidPrice
		}
		term.Mul(p, weights[i])
		acc.Add(acc, term)
	}
	return acc.Quo(acc, WeightDenominator), nil
}

// IsStale reports whether a snapshot published at publishTime is older than
// maxAge as of now.
func IsStale(publishTime, now time.Time, maxAge time.Duration) bool {
	return now.Sub(publishTime) > maxAge
}

// Validate runs the composite quality gate over a snapshot: positive price,
// exponent in bounds, nonzero confidence, not stale. Any failing check
// returns false (no error) so callers can branch on data quality without
// unwinding.
func Validate(snap *Snapshot, maxAge time.Duration, now time.Time) bool {
	if snap == nil {
		return false
	}
	if snap.Price <= 0 {
		return false
	}
	if snap.Exponent < MinExponent || snap.Exponent > MaxExponent {
		return false
	}
	if snap.Confidence == 0 {
		return false
	}
	if IsStale(snap.PublishTime, now, maxAge) {
		return false
	}
	return true
}
