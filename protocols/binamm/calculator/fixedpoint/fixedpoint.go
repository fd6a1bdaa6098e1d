package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/bitmath"
	"github.com/holiman/uint256"
)

// Rounding selects the direction of every division that moves value.
// Callers round up what a user owes the pool and round down what the pool pays out.
type Rounding uint8

const (
	Floor Rounding = iota
	Ceil
)

func (r Rounding) String() string {
	switch r {
	case Floor:
		return "floor"
	case Ceil:
		return "ceil"
	default:
		return fmt.Sprintf("rounding(%d)", uint8(r))
	}
}

// MaxDecimals is the largest token decimal count the engine accepts; amounts
// inside the engine are always 18-decimal fixed point.
const MaxDecimals = 18

var (
	ErrDivByZero       = errors.New("division by zero")
	ErrOverflow        = errors.New("fixed point overflow")
	ErrInvalidDecimals = errors.New("token decimals exceed 18")
	ErrInvalidScale    = errors.New("token scale must be a non-zero power of ten")

	// One is 1.0 in 18-decimal fixed point.
	One = uint256.NewInt(1e18)
	// MaxUint128 bounds every reserve, balance and supply stored by a pool.
	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	// MaxUint256 is 2^256 - 1.
	MaxUint256 = new(uint256.Int).Not(new(uint256.Int))

	// precomputed 10^n for n in 0..18
	powersOfTen [MaxDecimals + 1]*uint256.Int
)

func init() {
	powersOfTen[0] = uint256.NewInt(1)
	for i := 1; i < len(powersOfTen); i++ {
		powersOfTen[i] = new(uint256.Int).Mul(powersOfTen[i-1], uint256.NewInt(10))
	}
}

// MulDiv returns x*y/d computed with a 512-bit intermediate product, rounded as requested.
// It fails rather than wrap when the quotient does not fit in 256 bits.
func MulDiv(x, y, d *uint256.Int, r Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if r == Ceil && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow = z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// MulDivFloor returns floor(x*y/d).
func MulDivFloor(x, y, d *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, d, Floor)
}

// MulDivCeil returns ceil(x*y/d).
func MulDivCeil(x, y, d *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, d, Ceil)
}

// Mul multiplies two 18-decimal values.
func Mul(x, y *uint256.Int, r Rounding) (*uint256.Int, error) {
	return MulDiv(x, y, One, r)
}

// Div divides two 18-decimal values.
func Div(x, y *uint256.Int, r Rounding) (*uint256.Int, error) {
	return MulDiv(x, One, y, r)
}

// DivRound returns x/d with the requested rounding.
func DivRound(x, d *uint256.Int, r Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivByZero
	}
	z, rem := new(uint256.Int).DivMod(x, d, new(uint256.Int))
	if r == Ceil && !rem.IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

// Add returns x+y, failing on overflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sqrt returns floor(sqrt(x)). Newton's iteration is seeded with 2^ceil((msb+1)/2),
// which is never below the root, so the sequence decreases monotonically onto it.
func Sqrt(x *uint256.Int) *uint256.Int {
	if x.IsZero() {
		return new(uint256.Int)
	}
	msb, _ := bitmath.MostSignificantBit(x)
	z := new(uint256.Int).Lsh(uint256.NewInt(1), (uint(msb)+2)/2)

	next := new(uint256.Int)
	for {
		// next = (z + x/z) / 2
		next.Div(x, z)
		next.Add(next, z)
		next.Rsh(next, 1)
		if !next.Lt(z) {
			return z
		}
		z.Set(next)
	}
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Max returns a copy of the larger of a and b.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Clip returns x-y, or zero when y >= x.
func Clip(x, y *uint256.Int) *uint256.Int {
	if !x.Gt(y) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// Bound clamps x into [lo, hi].
func Bound(x, lo, hi *uint256.Int) *uint256.Int {
	if x.Lt(lo) {
		return lo.Clone()
	}
	if x.Gt(hi) {
		return hi.Clone()
	}
	return x.Clone()
}

// Abs32 returns |x| without overflowing on math.MinInt32.
func Abs32(x int32) uint32 {
	if x < 0 {
		return uint32(-int64(x))
	}
	return uint32(x)
}

// Scale returns 10^(18-decimals), the multiplier from token units to engine units.
func Scale(decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	return powersOfTen[MaxDecimals-decimals].Clone(), nil
}

// TokenScaleToAmmScale converts a token-native amount to 18-decimal engine units.
// The conversion is exact.
func TokenScaleToAmmScale(amount, scale *uint256.Int) (*uint256.Int, error) {
	if scale.IsZero() {
		return nil, ErrInvalidScale
	}
	z, overflow := new(uint256.Int).MulOverflow(amount, scale)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// AmmScaleToTokenScale converts 18-decimal engine units back to token-native units.
// Amounts the user must pay are converted with Ceil, payouts with Floor.
func AmmScaleToTokenScale(amount, scale *uint256.Int, r Rounding) (*uint256.Int, error) {
	if scale.IsZero() {
		return nil, ErrInvalidScale
	}
	return DivRound(amount, scale, r)
}
