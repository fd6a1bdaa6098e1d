package binmath

import (
	"errors"

	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/tickmath"
	"github.com/holiman/uint256"
)

var (
	ErrMissingPriceBounds = errors.New("empty tick requires its sqrt price bounds")

	one = uint256.NewInt(1)
)

// TickData is the slice of tick state the bin math needs: the tick's reserves and
// supply of balance units, plus where it sits relative to the active tick.
type TickData struct {
	Tick        int32
	ActiveTick  int32
	ReserveA    *uint256.Int
	ReserveB    *uint256.Int
	TotalSupply *uint256.Int
	SqrtLower   *uint256.Int
	SqrtUpper   *uint256.Int
}

// IsEmpty reports whether the tick holds no reserves on either side.
func (t TickData) IsEmpty() bool {
	return t.ReserveA.IsZero() && t.ReserveB.IsZero()
}

// belowActive reports whether a one-sided seed of this tick is paid in token A.
// An empty tick at the active tick is treated as not below and is seeded in B.
func (t TickData) belowActive() bool {
	return t.Tick < t.ActiveTick
}

// Delta is the outcome of adding liquidity to a bin: the tick balance the bin is
// credited and the token amounts the depositor owes, all in engine units.
type Delta struct {
	DeltaTickBalance *uint256.Int
	DeltaA           *uint256.Int
	DeltaB           *uint256.Int
}

// ReserveValue returns a balance's share of one tick reserve,
// min(tickReserve, floor(tickReserve*tickBalance/tickTotalSupply)).
func ReserveValue(tickReserve, tickBalance, tickTotalSupply *uint256.Int) (*uint256.Int, error) {
	if tickTotalSupply.IsZero() {
		return new(uint256.Int), nil
	}
	reserve, err := fixedpoint.MulDivFloor(tickReserve, tickBalance, tickTotalSupply)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Min(tickReserve, reserve), nil
}

// BinReserves prorates a bin's share of its tick's reserves. It returns (0, 0)
// when the tick has no supply.
func BinReserves(tickBalance, tickReserveA, tickReserveB, tickTotalSupply *uint256.Int) (reserveA, reserveB *uint256.Int, err error) {
	reserveA, err = ReserveValue(tickReserveA, tickBalance, tickTotalSupply)
	if err != nil {
		return nil, nil, err
	}
	reserveB, err = ReserveValue(tickReserveB, tickBalance, tickTotalSupply)
	if err != nil {
		return nil, nil, err
	}
	return reserveA, reserveB, nil
}

// DeltaTickBalanceFromDeltaLpBalance computes what a deposit of deltaLpBalance bin
// units costs and how much tick balance it earns the bin.
//
// A tick with reserves is joined pro rata and the amounts round up. An empty tick
// has no price to split by, so it is seeded from its price bounds: entirely in A
// when it is below the active tick, entirely in B otherwise. The credited tick
// balance always rounds down.
func DeltaTickBalanceFromDeltaLpBalance(binTickBalance, binTotalSupply *uint256.Int, tick TickData, deltaLpBalance *uint256.Int) (Delta, error) {
	// max(1, x) lets a brand new bin or tick share the same formulas.
	binBalance := fixedpoint.Max(one, binTickBalance)
	binSupply := fixedpoint.Max(one, binTotalSupply)

	deltaTickBalance, err := fixedpoint.MulDivFloor(binBalance, deltaLpBalance, binSupply)
	if err != nil {
		return Delta{}, err
	}

	if !tick.IsEmpty() {
		tickSupply := fixedpoint.Max(one, tick.TotalSupply)
		numerator, overflow := new(uint256.Int).MulOverflow(binBalance, deltaLpBalance)
		if overflow {
			return Delta{}, fixedpoint.ErrOverflow
		}
		denominator, overflow := new(uint256.Int).MulOverflow(tickSupply, binSupply)
		if overflow {
			return Delta{}, fixedpoint.ErrOverflow
		}
		deltaA, err := fixedpoint.MulDivCeil(tick.ReserveA, numerator, denominator)
		if err != nil {
			return Delta{}, err
		}
		deltaB, err := fixedpoint.MulDivCeil(tick.ReserveB, numerator, denominator)
		if err != nil {
			return Delta{}, err
		}
		return Delta{DeltaTickBalance: deltaTickBalance, DeltaA: deltaA, DeltaB: deltaB}, nil
	}

	deltaA, deltaB, err := emptyTickAmounts(tick, deltaTickBalance)
	if err != nil {
		return Delta{}, err
	}
	return Delta{DeltaTickBalance: deltaTickBalance, DeltaA: deltaA, DeltaB: deltaB}, nil
}

// emptyTickAmounts prices liquidity L into an empty tick as if the price sat at
// the far bound: all A below the active tick, all B otherwise, rounded up.
func emptyTickAmounts(tick TickData, liquidity *uint256.Int) (deltaA, deltaB *uint256.Int, err error) {
	if tick.SqrtLower == nil || tick.SqrtUpper == nil || !tick.SqrtUpper.Gt(tick.SqrtLower) {
		return nil, nil, ErrMissingPriceBounds
	}
	sqrtPrice := tick.SqrtLower
	if tick.belowActive() {
		sqrtPrice = tick.SqrtUpper
	}
	return tickmath.ReservesFromLiquidity(liquidity, sqrtPrice, tick.SqrtLower, tick.SqrtUpper, fixedpoint.Ceil)
}

// LpBalanceFromReserves is the inverse of DeltaTickBalanceFromDeltaLpBalance: the
// largest bin-unit deposit whose cost stays within amountA and amountB. For a tick
// with reserves it takes the minimum over the tokens the tick holds, so a lopsided
// quote cannot over-credit the depositor.
func LpBalanceFromReserves(binTickBalance, binTotalSupply *uint256.Int, tick TickData, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	binBalance := fixedpoint.Max(one, binTickBalance)
	binSupply := fixedpoint.Max(one, binTotalSupply)

	if tick.IsEmpty() {
		liquidity, err := emptyTickLiquidity(tick, amountA, amountB)
		if err != nil {
			return nil, err
		}
		return fixedpoint.MulDivFloor(liquidity, binSupply, binBalance)
	}

	tickSupply := fixedpoint.Max(one, tick.TotalSupply)
	numerator, overflow := new(uint256.Int).MulOverflow(tickSupply, binSupply)
	if overflow {
		return nil, fixedpoint.ErrOverflow
	}

	var lp *uint256.Int
	for _, side := range [2]struct{ amount, reserve *uint256.Int }{
		{amountA, tick.ReserveA},
		{amountB, tick.ReserveB},
	} {
		if side.reserve.IsZero() {
			continue
		}
		denominator, overflow := new(uint256.Int).MulOverflow(side.reserve, binBalance)
		if overflow {
			return nil, fixedpoint.ErrOverflow
		}
		candidate, err := fixedpoint.MulDivFloor(side.amount, numerator, denominator)
		if err != nil {
			return nil, err
		}
		if lp == nil || candidate.Lt(lp) {
			lp = candidate
		}
	}
	return lp, nil
}

func emptyTickLiquidity(tick TickData, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if tick.SqrtLower == nil || tick.SqrtUpper == nil || !tick.SqrtUpper.Gt(tick.SqrtLower) {
		return nil, ErrMissingPriceBounds
	}
	diff := new(uint256.Int).Sub(tick.SqrtUpper, tick.SqrtLower)
	if tick.belowActive() {
		return fixedpoint.Div(amountA, diff, fixedpoint.Floor)
	}
	return fixedpoint.MulDivFloor(amountB, new(uint256.Int).Mul(tick.SqrtLower, tick.SqrtUpper), diff.Mul(diff, fixedpoint.One))
}
