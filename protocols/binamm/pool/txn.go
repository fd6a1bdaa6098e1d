package pool

import (
	"fmt"

	"github.com/defistate/binamm-go/bitset"
	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/binmath"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/liquiditymath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type balanceKey struct {
	owner      common.Address
	subaccount uint64
	binID      uint32
}

// txn stages every tick, bin and balance an operation touches. Nothing reaches the
// pool until commit, so a failed operation leaves the pool as it was.
type txn struct {
	p         *Pool
	ticks     map[int32]binamm.TickState
	bins      map[uint32]binamm.BinState
	balances  map[balanceKey]*uint256.Int
	lastBinID uint32
	reserveA  *uint256.Int
	reserveB  *uint256.Int
}

func (p *Pool) begin() *txn {
	return &txn{
		p:         p,
		ticks:     make(map[int32]binamm.TickState),
		bins:      make(map[uint32]binamm.BinState),
		balances:  make(map[balanceKey]*uint256.Int),
		lastBinID: p.lastBinID,
		reserveA:  p.reserveA.Clone(),
		reserveB:  p.reserveB.Clone(),
	}
}

func (t *txn) tick(index int32) binamm.TickState {
	if s, ok := t.ticks[index]; ok {
		return s
	}
	return t.p.tickState(index)
}

func (t *txn) putTick(index int32, s binamm.TickState) {
	t.ticks[index] = s
}

func (t *txn) bin(id uint32) (binamm.BinState, error) {
	if b, ok := t.bins[id]; ok {
		return b, nil
	}
	if id == 0 || id > t.p.lastBinID {
		return binamm.BinState{}, fmt.Errorf("bin %d: %w", id, binamm.ErrUnknownBin)
	}
	return binamm.CopyBinState(t.p.bins[id]), nil
}

func (t *txn) putBin(id uint32, b binamm.BinState) {
	t.bins[id] = b
}

func (t *txn) newBin(kind binamm.Kind, tick int32) (uint32, binamm.BinState) {
	t.lastBinID++
	b := binamm.BinState{
		MergeBinBalance: new(uint256.Int),
		TickBalance:     new(uint256.Int),
		TotalSupply:     new(uint256.Int),
		Kind:            kind,
		Tick:            tick,
	}
	t.bins[t.lastBinID] = b
	return t.lastBinID, b
}

func (t *txn) balance(k balanceKey) *uint256.Int {
	if b, ok := t.balances[k]; ok {
		return b
	}
	b := t.p.balanceOf(k).Clone()
	t.balances[k] = b
	return b
}

func (t *txn) commit() {
	p := t.p
	for index, s := range t.ticks {
		p.ticks[index] = s
	}
	for p.lastBinID < t.lastBinID {
		p.bins = append(p.bins, binamm.BinState{})
		p.lastBinID++
	}
	for id, b := range t.bins {
		p.bins[id] = b
	}
	for k, b := range t.balances {
		if b.IsZero() {
			delete(p.balances, k)
			continue
		}
		p.balances[k] = b
	}
	p.reserveA = t.reserveA
	p.reserveB = t.reserveB
}

// depositIntoBin credits deltaLp units of the bin of kind at tickIndex, creating
// the bin when the tick has none, and returns the bin id and engine-scale cost.
func (t *txn) depositIntoBin(kind binamm.Kind, tickIndex int32, deltaLp *uint256.Int) (uint32, binmath.Delta, error) {
	lower, upper, err := t.p.tickBounds(tickIndex)
	if err != nil {
		return 0, binmath.Delta{}, err
	}
	tick := t.tick(tickIndex)

	binID := tick.BinIDsByTick[kind]
	var bin binamm.BinState
	if binID == 0 {
		binID, bin = t.newBin(kind, tickIndex)
		tick.BinIDsByTick[kind] = binID
	} else if bin, err = t.bin(binID); err != nil {
		return 0, binmath.Delta{}, err
	}

	delta, err := binmath.DeltaTickBalanceFromDeltaLpBalance(bin.TickBalance, bin.TotalSupply, binmath.TickData{
		Tick:        tickIndex,
		ActiveTick:  t.p.activeTick,
		ReserveA:    tick.ReserveA,
		ReserveB:    tick.ReserveB,
		TotalSupply: tick.TotalSupply,
		SqrtLower:   lower,
		SqrtUpper:   upper,
	}, deltaLp)
	if err != nil {
		return 0, binmath.Delta{}, err
	}
	if delta.DeltaTickBalance.IsZero() {
		return 0, binmath.Delta{}, binamm.ErrZeroLiquidity
	}

	if bin.TickBalance, err = liquiditymath.AddDelta(bin.TickBalance, delta.DeltaTickBalance); err != nil {
		return 0, binmath.Delta{}, err
	}
	if bin.TotalSupply, err = liquiditymath.AddDelta(bin.TotalSupply, deltaLp); err != nil {
		return 0, binmath.Delta{}, err
	}
	if err := t.creditTick(&tick, delta.DeltaTickBalance, delta.DeltaA, delta.DeltaB); err != nil {
		return 0, binmath.Delta{}, err
	}

	t.putTick(tickIndex, tick)
	t.putBin(binID, bin)
	return binID, delta, nil
}

// withdrawFromBin burns amount units of binID and follows the merge chain down to
// the root bin, where the prorated tick reserves are released.
func (t *txn) withdrawFromBin(binID uint32, amount *uint256.Int) (reserveA, reserveB *uint256.Int, err error) {
	seen := bitset.NewBitSet(uint64(t.lastBinID) + 1)
	for hops := 0; hops <= binamm.MaxMergeHops; hops++ {
		bin, err := t.bin(binID)
		if err != nil {
			return nil, nil, err
		}
		if seen.TestAndSet(uint64(binID)) {
			break
		}
		if bin.TotalSupply.Lt(amount) {
			return nil, nil, fmt.Errorf("bin %d supply %s below %s: %w", binID, bin.TotalSupply.Dec(), amount.Dec(), binamm.ErrInsufficientBalance)
		}

		if !bin.IsMerged() {
			return t.withdrawFromRoot(binID, bin, amount)
		}

		share, err := prorate(amount, bin.MergeBinBalance, bin.TotalSupply)
		if err != nil {
			return nil, nil, err
		}
		bin.TotalSupply = new(uint256.Int).Sub(bin.TotalSupply, amount)
		bin.MergeBinBalance = fixedpoint.Clip(bin.MergeBinBalance, share)
		t.putBin(binID, bin)

		binID, amount = bin.MergeID, share
	}
	return nil, nil, fmt.Errorf("bin %d: %w", binID, binamm.ErrMergeChainTooLong)
}

func (t *txn) withdrawFromRoot(binID uint32, bin binamm.BinState, amount *uint256.Int) (reserveA, reserveB *uint256.Int, err error) {
	tick := t.tick(bin.Tick)
	tickBalance, err := prorate(amount, bin.TickBalance, bin.TotalSupply)
	if err != nil {
		return nil, nil, err
	}
	reserveA, reserveB, err = binmath.BinReserves(tickBalance, tick.ReserveA, tick.ReserveB, tick.TotalSupply)
	if err != nil {
		return nil, nil, err
	}

	bin.TotalSupply = new(uint256.Int).Sub(bin.TotalSupply, amount)
	bin.TickBalance = fixedpoint.Clip(bin.TickBalance, tickBalance)
	if err := t.debitTick(&tick, tickBalance, reserveA, reserveB); err != nil {
		return nil, nil, err
	}

	t.putTick(bin.Tick, tick)
	t.putBin(binID, bin)
	return reserveA, reserveB, nil
}

func (t *txn) creditTick(tick *binamm.TickState, balance, amountA, amountB *uint256.Int) (err error) {
	if tick.TotalSupply, err = liquiditymath.AddDelta(tick.TotalSupply, balance); err != nil {
		return err
	}
	if tick.ReserveA, err = liquiditymath.AddDelta(tick.ReserveA, amountA); err != nil {
		return err
	}
	if tick.ReserveB, err = liquiditymath.AddDelta(tick.ReserveB, amountB); err != nil {
		return err
	}
	t.reserveA = new(uint256.Int).Add(t.reserveA, amountA)
	t.reserveB = new(uint256.Int).Add(t.reserveB, amountB)
	return nil
}

func (t *txn) debitTick(tick *binamm.TickState, balance, amountA, amountB *uint256.Int) (err error) {
	if tick.TotalSupply, err = liquiditymath.SubDelta(tick.TotalSupply, balance); err != nil {
		return err
	}
	if tick.ReserveA, err = liquiditymath.SubDelta(tick.ReserveA, amountA); err != nil {
		return err
	}
	if tick.ReserveB, err = liquiditymath.SubDelta(tick.ReserveB, amountB); err != nil {
		return err
	}
	t.reserveA = fixedpoint.Clip(t.reserveA, amountA)
	t.reserveB = fixedpoint.Clip(t.reserveB, amountB)
	return nil
}

// prorate returns floor(amount*part/whole), zero when whole is zero.
func prorate(amount, part, whole *uint256.Int) (*uint256.Int, error) {
	if whole.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulDivFloor(amount, part, whole)
}
