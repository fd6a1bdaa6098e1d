package tickmath

import (
	"math/big"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/holiman/uint256"
)

const (
	// Reserves below 2^precisionThresholdBits on both sides are shifted up by
	// precisionBumpBits before solving for liquidity.
	precisionThresholdBits = 78
	precisionBumpBits      = 57
)

var bigOne = new(big.Int).SetUint64(1e18)

// GetTickL returns the liquidity of a tick holding reserveA and reserveB between
// sqrtLower and sqrtUpper, rounded down. With A = L*(p - lower) and
// B = L*(1/p - 1/upper) it solves
//
//	b = (A/upper + B*lower) / 2
//	L = (b + sqrt(b^2 + A*B*(upper-lower)/upper)) * upper / (upper-lower)
//
// Every intermediate division floors, so the result never overstates liquidity.
func GetTickL(reserveA, reserveB, sqrtLower, sqrtUpper *uint256.Int) (*uint256.Int, error) {
	if !sqrtUpper.Gt(sqrtLower) {
		return nil, ErrInvalidPriceBounds
	}
	if reserveA.IsZero() && reserveB.IsZero() {
		return new(uint256.Int), nil
	}
	diff := new(uint256.Int).Sub(sqrtUpper, sqrtLower)

	a, b := reserveA.Clone(), reserveB.Clone()
	var bump uint
	if a.BitLen() <= precisionThresholdBits && b.BitLen() <= precisionThresholdBits {
		bump = precisionBumpBits
		a.Lsh(a, bump)
		b.Lsh(b, bump)
	}

	var (
		liquidity *uint256.Int
		err       error
	)
	switch {
	case b.IsZero():
		liquidity, err = fixedpoint.Div(a, diff, fixedpoint.Floor)
	case a.IsZero():
		liquidity, err = singleSidedBLiquidity(b, sqrtLower, sqrtUpper, diff)
	default:
		liquidity, err = twoSidedLiquidity(a, b, sqrtLower, sqrtUpper, diff)
	}
	if err != nil {
		return nil, err
	}
	return liquidity.Rsh(liquidity, bump), nil
}

func singleSidedBLiquidity(reserveB, sqrtLower, sqrtUpper, diff *uint256.Int) (*uint256.Int, error) {
	bLower, err := fixedpoint.Mul(reserveB, sqrtLower, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDivFloor(bLower, sqrtUpper, diff)
}

func twoSidedLiquidity(reserveA, reserveB, sqrtLower, sqrtUpper, diff *uint256.Int) (*uint256.Int, error) {
	aTerm, err := fixedpoint.Div(reserveA, sqrtUpper, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	bTerm, err := fixedpoint.Mul(reserveB, sqrtLower, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	half, err := fixedpoint.Add(aTerm, bTerm)
	if err != nil {
		return nil, err
	}
	half.Rsh(half, 1)

	bSquared, err := fixedpoint.Mul(half, half, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	ab, err := fixedpoint.Mul(reserveB, reserveA, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	abTerm, err := fixedpoint.MulDivFloor(ab, diff, sqrtUpper)
	if err != nil {
		return nil, err
	}

	// The radicand is an 18-decimal value; its root needs one more factor of 1e18,
	// which can exceed 256 bits at the top of the reserve range.
	radicand := new(big.Int).Add(bSquared.ToBig(), abTerm.ToBig())
	radicand.Mul(radicand, bigOne)
	root, overflow := uint256.FromBig(radicand.Sqrt(radicand))
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}

	sum, err := fixedpoint.Add(half, root)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDivFloor(sum, sqrtUpper, diff)
}

// GetSqrtPrice solves for the current sqrt price of a tick given its reserves and
// liquidity, clamped to [sqrtLower, sqrtUpper].
func GetSqrtPrice(reserveA, reserveB, sqrtLower, sqrtUpper, liquidity *uint256.Int) (*uint256.Int, error) {
	if !sqrtUpper.Gt(sqrtLower) {
		return nil, ErrInvalidPriceBounds
	}
	if reserveA.IsZero() {
		return sqrtLower.Clone(), nil
	}
	if reserveB.IsZero() {
		return sqrtUpper.Clone(), nil
	}

	lLower, err := fixedpoint.Mul(liquidity, sqrtLower, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	numerator, err := fixedpoint.Add(reserveA, lLower)
	if err != nil {
		return nil, err
	}
	lUpper, err := fixedpoint.Div(liquidity, sqrtUpper, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	denominator, err := fixedpoint.Add(reserveB, lUpper)
	if err != nil {
		return nil, err
	}
	price, err := fixedpoint.Div(numerator, denominator, fixedpoint.Floor)
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(price, fixedpoint.One)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}
	return fixedpoint.Bound(fixedpoint.Sqrt(scaled), sqrtLower, sqrtUpper), nil
}

// GetTickSqrtPriceAndL returns the tick's current sqrt price and liquidity from its reserves.
func GetTickSqrtPriceAndL(reserveA, reserveB, sqrtLower, sqrtUpper *uint256.Int) (sqrtPrice, liquidity *uint256.Int, err error) {
	liquidity, err = GetTickL(reserveA, reserveB, sqrtLower, sqrtUpper)
	if err != nil {
		return nil, nil, err
	}
	sqrtPrice, err = GetSqrtPrice(reserveA, reserveB, sqrtLower, sqrtUpper, liquidity)
	if err != nil {
		return nil, nil, err
	}
	return sqrtPrice, liquidity, nil
}

// ReservesFromLiquidity returns the reserves held by liquidity L at sqrtPrice:
// A = L*(p - lower), B = L*(upper - p)/(p*upper).
func ReservesFromLiquidity(liquidity, sqrtPrice, sqrtLower, sqrtUpper *uint256.Int, r fixedpoint.Rounding) (reserveA, reserveB *uint256.Int, err error) {
	if !sqrtUpper.Gt(sqrtLower) {
		return nil, nil, ErrInvalidPriceBounds
	}
	if sqrtPrice.Lt(sqrtLower) || sqrtPrice.Gt(sqrtUpper) {
		return nil, nil, ErrSqrtPriceOutOfRange
	}

	reserveA, err = fixedpoint.Mul(liquidity, new(uint256.Int).Sub(sqrtPrice, sqrtLower), r)
	if err != nil {
		return nil, nil, err
	}

	upperDiff := new(uint256.Int).Sub(sqrtUpper, sqrtPrice)
	reserveB, err = fixedpoint.MulDiv(liquidity, upperDiff.Mul(upperDiff, fixedpoint.One), new(uint256.Int).Mul(sqrtPrice, sqrtUpper), r)
	if err != nil {
		return nil, nil, err
	}
	return reserveA, reserveB, nil
}
