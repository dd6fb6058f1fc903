package ledger

import (
	"fmt"
	"math"
	"math/bits"
)

// AddUint64 returns a+b or ErrOverflow. Counters never wrap or saturate.
func AddUint64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubUint64 returns a-b or ErrUnderflow.
func SubUint64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Incr adds one to a counter.
func Incr(v uint64) (uint64, error) {
	return AddUint64(v, 1)
}

// two64 is 2^64 as a float64; it is exactly representable.
const two64 = float64(1 << 63) * 2

// FloorMul computes floor(float64(amount) * factor) with the same semantics
// as a float-to-unsigned cast on the settlement chain: the multiplication is
// done in float64, the result truncated toward zero, NaN and negative results
// become zero. Results at or above 2^64 fail with ErrOverflow instead of
// saturating.
//
// Payouts and redemptions depend on this exact truncation, so callers must
// not substitute decimal arithmetic here.
func FloorMul(amount uint64, factor float64) (uint64, error) {
	product := float64(amount) * factor
	switch {
	case math.IsNaN(product), product <= 0:
		return 0, nil
	case math.IsInf(product, 1), product >= two64:
		return 0, fmt.Errorf("%d * %v: %w", amount, factor, ErrOverflow)
	}
	return uint64(math.Trunc(product)), nil
}
