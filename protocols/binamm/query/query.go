package query

import (
	"fmt"

	"github.com/defistate/binamm-go/bitset"
	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/binmath"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/tickmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BinPosition is an owner's holding in one bin, resolved to the root of its merge
// chain. Amounts are in engine (18 decimal) units.
type BinPosition struct {
	BinID       uint32
	RootBinID   uint32
	RootBalance *uint256.Int
	AmountA     *uint256.Int
	AmountB     *uint256.Int
	Liquidity   *uint256.Int
}

// PositionInformation aggregates BinPositions. AmountA and AmountB are the summed
// engine amounts converted to each token's native scale, rounded down.
type PositionInformation struct {
	Bins    []BinPosition
	AmountA *uint256.Int
	AmountB *uint256.Int
}

// AddQuote is the add request that spends at most a target pair of token amounts
// on one bin, and what that request will actually pull, in token units.
type AddQuote struct {
	Params           binamm.AddLiquidityParams
	BinID            uint32
	DeltaTickBalance *uint256.Int
	AmountA          *uint256.Int
	AmountB          *uint256.Int
}

// ResolveMergeChain follows binID's merge links to the root bin and restates
// balance in root bin units, flooring at every hop. A hop with no supply yields zero.
func ResolveMergeChain(pool binamm.Pool, binID uint32, balance *uint256.Int) (rootID uint32, rootBin binamm.BinState, rootBalance *uint256.Int, err error) {
	seen := bitset.NewBitSet(uint64(pool.GetState().LastBinID) + 1)
	balance = balance.Clone()
	for hops := 0; hops <= binamm.MaxMergeHops; hops++ {
		bin, err := pool.GetBin(binID)
		if err != nil {
			return 0, binamm.BinState{}, nil, err
		}
		if uint64(binID) >= seen.Len() || seen.TestAndSet(uint64(binID)) {
			break
		}
		if !bin.IsMerged() {
			return binID, bin, balance, nil
		}
		if balance, err = prorate(balance, bin.MergeBinBalance, bin.TotalSupply); err != nil {
			return 0, binamm.BinState{}, nil, err
		}
		binID = bin.MergeID
	}
	return 0, binamm.BinState{}, nil, fmt.Errorf("bin %d: %w", binID, binamm.ErrMergeChainTooLong)
}

// UserSubaccountBinReserves values owner's balance of binID under subaccount.
func UserSubaccountBinReserves(pool binamm.Pool, owner common.Address, subaccount uint64, binID uint32) (BinPosition, error) {
	rootID, root, rootBalance, err := ResolveMergeChain(pool, binID, pool.BalanceOf(owner, subaccount, binID))
	if err != nil {
		return BinPosition{}, err
	}

	tickBalance, err := prorate(rootBalance, root.TickBalance, root.TotalSupply)
	if err != nil {
		return BinPosition{}, err
	}
	tick := pool.GetTick(root.Tick)
	amountA, amountB, err := binmath.BinReserves(tickBalance, tick.ReserveA, tick.ReserveB, tick.TotalSupply)
	if err != nil {
		return BinPosition{}, err
	}
	lower, upper, err := tickmath.TickSqrtPrices(pool.TickSpacing(), root.Tick)
	if err != nil {
		return BinPosition{}, err
	}
	liquidity, err := tickmath.GetTickL(amountA, amountB, lower, upper)
	if err != nil {
		return BinPosition{}, err
	}

	return BinPosition{
		BinID:       binID,
		RootBinID:   rootID,
		RootBalance: rootBalance,
		AmountA:     amountA,
		AmountB:     amountB,
		Liquidity:   liquidity,
	}, nil
}

// SubaccountPositionInformation values owner's balances of binIDs and totals them
// in token units.
func SubaccountPositionInformation(pool binamm.Pool, owner common.Address, subaccount uint64, binIDs []uint32) (PositionInformation, error) {
	info := PositionInformation{Bins: make([]BinPosition, len(binIDs))}
	totalA, totalB := new(uint256.Int), new(uint256.Int)
	for i, binID := range binIDs {
		position, err := UserSubaccountBinReserves(pool, owner, subaccount, binID)
		if err != nil {
			return PositionInformation{}, &binamm.IndexError{Index: i, Err: err}
		}
		info.Bins[i] = position
		totalA.Add(totalA, position.AmountA)
		totalB.Add(totalB, position.AmountB)
	}

	var err error
	if info.AmountA, err = fixedpoint.AmmScaleToTokenScale(totalA, pool.TokenAScale(), fixedpoint.Floor); err != nil {
		return PositionInformation{}, err
	}
	if info.AmountB, err = fixedpoint.AmmScaleToTokenScale(totalB, pool.TokenBScale(), fixedpoint.Floor); err != nil {
		return PositionInformation{}, err
	}
	return info, nil
}

// LpBalanceForTargetReserveAmounts quotes the largest deposit into binID that costs
// no more than amountA and amountB token units. The returned amounts are what the
// add will pull and never exceed the targets.
func LpBalanceForTargetReserveAmounts(pool binamm.Pool, binID uint32, amountA, amountB *uint256.Int) (AddQuote, error) {
	bin, err := pool.GetBin(binID)
	if err != nil {
		return AddQuote{}, err
	}
	if bin.IsMerged() {
		return AddQuote{}, fmt.Errorf("bin %d: %w", binID, binamm.ErrBinMerged)
	}

	scaleA, scaleB := pool.TokenAScale(), pool.TokenBScale()
	ammA, err := fixedpoint.TokenScaleToAmmScale(amountA, scaleA)
	if err != nil {
		return AddQuote{}, err
	}
	ammB, err := fixedpoint.TokenScaleToAmmScale(amountB, scaleB)
	if err != nil {
		return AddQuote{}, err
	}

	lower, upper, err := tickmath.TickSqrtPrices(pool.TickSpacing(), bin.Tick)
	if err != nil {
		return AddQuote{}, err
	}
	tick := pool.GetTick(bin.Tick)
	data := binmath.TickData{
		Tick:        bin.Tick,
		ActiveTick:  pool.GetState().ActiveTick,
		ReserveA:    tick.ReserveA,
		ReserveB:    tick.ReserveB,
		TotalSupply: tick.TotalSupply,
		SqrtLower:   lower,
		SqrtUpper:   upper,
	}

	lp, err := binmath.LpBalanceFromReserves(bin.TickBalance, bin.TotalSupply, data, ammA, ammB)
	if err != nil {
		return AddQuote{}, err
	}
	delta, err := binmath.DeltaTickBalanceFromDeltaLpBalance(bin.TickBalance, bin.TotalSupply, data, lp)
	if err != nil {
		return AddQuote{}, err
	}

	quote := AddQuote{
		Params: binamm.AddLiquidityParams{
			Kind:    bin.Kind,
			Ticks:   []int32{bin.Tick},
			Amounts: []*uint256.Int{lp},
		},
		BinID:            binID,
		DeltaTickBalance: delta.DeltaTickBalance,
	}
	if quote.AmountA, err = fixedpoint.AmmScaleToTokenScale(delta.DeltaA, scaleA, fixedpoint.Ceil); err != nil {
		return AddQuote{}, err
	}
	if quote.AmountB, err = fixedpoint.AmmScaleToTokenScale(delta.DeltaB, scaleB, fixedpoint.Ceil); err != nil {
		return AddQuote{}, err
	}
	return quote, nil
}

// MaxRemoveParams builds the request that removes owner's whole balance of binID.
func MaxRemoveParams(pool binamm.Pool, owner common.Address, subaccount uint64, binID uint32) binamm.RemoveLiquidityParams {
	return binamm.RemoveLiquidityParams{
		BinIDs:  []uint32{binID},
		Amounts: []*uint256.Int{pool.BalanceOf(owner, subaccount, binID)},
	}
}

// PoolSqrtPrice returns the sqrt price and liquidity of the pool's active tick. An
// empty active tick reports its lower bound and no liquidity.
func PoolSqrtPrice(pool binamm.Pool) (sqrtPrice, liquidity *uint256.Int, err error) {
	active := pool.GetState().ActiveTick
	lower, upper, err := tickmath.TickSqrtPrices(pool.TickSpacing(), active)
	if err != nil {
		return nil, nil, err
	}
	tick := pool.GetTick(active)
	if tick.ReserveA.IsZero() && tick.ReserveB.IsZero() {
		return lower, new(uint256.Int), nil
	}
	return tickmath.GetTickSqrtPriceAndL(tick.ReserveA, tick.ReserveB, lower, upper)
}

func prorate(amount, part, whole *uint256.Int) (*uint256.Int, error) {
	if whole.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulDivFloor(amount, part, whole)
}
