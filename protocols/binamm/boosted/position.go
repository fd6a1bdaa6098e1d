package boosted

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/query"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// positionSubaccount is the pool subaccount every position holds its bins under.
const positionSubaccount = 0

// ShareToken is the fungible token that records claims on a position.
type ShareToken interface {
	BalanceOf(owner common.Address) *uint256.Int
	TotalSupply() *uint256.Int
	Mint(to common.Address, amount *uint256.Int) error
	Burn(from common.Address, amount *uint256.Int) error
}

// Position aggregates liquidity in one or more pool bins under fixed ratios and
// issues shares against it. Liquidity reaches the position by adding it to the
// pool with the position's address as recipient; Mint then accounts for it.
//
// binBalances is the position's own record of what it holds in each bin. The true
// balance in the pool can only be higher, by liquidity not yet minted against.
// parkedA and parkedB are token amounts a migration withdrew but could not yet
// deposit into the root bin; while either is set, Mint and Burn are refused.
type Position struct {
	address common.Address
	pool    binamm.Pool
	shares  ShareToken
	bins    BinSet

	metrics *Metrics
	logger  binamm.Logger

	entered atomic.Bool

	mu          sync.RWMutex
	binBalances []*uint256.Int
	parkedA     *uint256.Int
	parkedB     *uint256.Int
}

func newPosition(address common.Address, pool binamm.Pool, shares ShareToken, bins BinSet, metrics *Metrics, logger binamm.Logger) *Position {
	balances := make([]*uint256.Int, len(bins.BinIDs()))
	for i := range balances {
		balances[i] = new(uint256.Int)
	}
	return &Position{
		address:     address,
		pool:        pool,
		shares:      shares,
		bins:        bins,
		metrics:     metrics,
		logger:      logger,
		binBalances: balances,
		parkedA:     new(uint256.Int),
		parkedB:     new(uint256.Int),
	}
}

// Address is the account that owns the position's pool balances.
func (p *Position) Address() common.Address { return p.address }

func (p *Position) Kind() binamm.Kind { return p.bins.Kind() }

// Variant reports "static" or "movement".
func (p *Position) Variant() string { return p.bins.Variant() }

func (p *Position) BinIDs() []uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bins.BinIDs()
}

func (p *Position) Ratios() []*uint256.Int {
	return p.bins.Ratios()
}

// Ticks returns the current tick of each tracked bin.
func (p *Position) Ticks() ([]int32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bins.Ticks(p.pool)
}

// BinBalances returns a copy of the tracked per-bin balances.
func (p *Position) BinBalances() []*uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneAll(p.binBalances)
}

// ParkedAmounts returns the token amounts held by the position's address that an
// interrupted migration still has to deposit into the root bin.
func (p *Position) ParkedAmounts() (amountA, amountB *uint256.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.parkedA.Clone(), p.parkedB.Clone()
}

func (p *Position) TotalSupply() *uint256.Int {
	return p.shares.TotalSupply()
}

func (p *Position) BalanceOf(owner common.Address) *uint256.Int {
	return p.shares.BalanceOf(owner)
}

// Mint issues shares to recipient for liquidity added to the position's bins since
// the last accounting. Every bin past the anchor must have grown by at least its
// ratio of the anchor's growth, rounded up.
func (p *Position) Mint(recipient common.Address) (deltaSupply *uint256.Int, err error) {
	defer p.metrics.observe(opMint, p.bins.Variant())(&err)
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if err := p.requireSettled(); err != nil {
		return nil, err
	}

	ids, ratios := p.bins.BinIDs(), p.bins.Ratios()
	tracked := p.BinBalances()
	current := p.trueBalances(ids)

	added0 := fixedpoint.Clip(current[0], tracked[0])
	if added0.IsZero() {
		return nil, ErrZeroDeltaSupply
	}
	for i := 1; i < len(ids); i++ {
		required, err := fixedpoint.Mul(added0, ratios[i], fixedpoint.Ceil)
		if err != nil {
			return nil, err
		}
		added := fixedpoint.Clip(current[i], tracked[i])
		if added.Lt(required) {
			return nil, &InsufficientLiquidityError{BinIndex: i, BinID: ids[i], Required: required, Added: added}
		}
	}

	supply := p.shares.TotalSupply()
	deltaSupply = added0
	if !supply.IsZero() && !tracked[0].IsZero() {
		if deltaSupply, err = fixedpoint.MulDivFloor(added0, supply, tracked[0]); err != nil {
			return nil, err
		}
	}
	if deltaSupply.IsZero() {
		return nil, ErrZeroDeltaSupply
	}
	if err := p.shares.Mint(recipient, deltaSupply); err != nil {
		return nil, err
	}
	p.setBinBalances(current)

	p.logger.Debug("minted boosted shares", "position", p.address.Hex(), "recipient", recipient.Hex(), "shares", deltaSupply.Dec(), "anchorBalance", current[0].Dec())
	return deltaSupply, nil
}

// Burn redeems amount of owner's shares and sends the released tokens to
// recipient. The anchor bin gives up its pro-rata share; every other bin gives up
// its ratio of the anchor's removal, capped at what it tracks.
func (p *Position) Burn(owner, recipient common.Address, amount *uint256.Int) (res binamm.RemoveLiquidityResult, err error) {
	defer p.metrics.observe(opBurn, p.bins.Variant())(&err)
	if err := p.enter(); err != nil {
		return res, err
	}
	defer p.exit()

	if err := p.requireSettled(); err != nil {
		return res, err
	}
	if held := p.shares.BalanceOf(owner); held.Lt(amount) {
		return res, fmt.Errorf("%s holds %s, burning %s: %w", owner.Hex(), held.Dec(), amount.Dec(), ErrInsufficientShares)
	}
	if amount.IsZero() {
		return emptyResult(), nil
	}

	ids, ratios := p.bins.BinIDs(), p.bins.Ratios()
	tracked := p.BinBalances()
	removed := make([]*uint256.Int, len(ids))
	if removed[0], err = fixedpoint.MulDivFloor(amount, tracked[0], p.shares.TotalSupply()); err != nil {
		return res, err
	}
	for i := 1; i < len(ids); i++ {
		share, err := fixedpoint.Mul(removed[0], ratios[i], fixedpoint.Floor)
		if err != nil {
			return res, err
		}
		removed[i] = fixedpoint.Min(tracked[i], share)
	}

	// Shares go first so a failed removal can hand them back untouched.
	if err := p.shares.Burn(owner, amount); err != nil {
		return res, err
	}
	res, err = p.pool.RemoveLiquidity(p.address, recipient, positionSubaccount, binamm.RemoveLiquidityParams{BinIDs: ids, Amounts: removed})
	if err != nil {
		if restoreErr := p.shares.Mint(owner, amount); restoreErr != nil {
			return res, errors.Join(err, restoreErr)
		}
		return res, err
	}

	remaining := make([]*uint256.Int, len(ids))
	for i := range remaining {
		remaining[i] = new(uint256.Int).Sub(tracked[i], removed[i])
	}
	p.setBinBalances(remaining)

	p.logger.Debug("burned boosted shares", "position", p.address.Hex(), "owner", owner.Hex(), "shares", amount.Dec(), "amountA", res.AmountA.Dec(), "amountB", res.AmountB.Dec())
	return res, nil
}

// SkimmableAmount is the anchor bin liquidity held beyond the tracked balance.
// A single-bin position has nothing to skim: its excess is an unminted deposit.
func (p *Position) SkimmableAmount() *uint256.Int {
	ids := p.BinIDs()
	if len(ids) == 1 {
		return new(uint256.Int)
	}
	return fixedpoint.Clip(p.pool.BalanceOf(p.address, positionSubaccount, ids[0]), p.BinBalances()[0])
}

// Skim withdraws the anchor bin's untracked excess to recipient without touching
// the share supply.
func (p *Position) Skim(recipient common.Address) (res binamm.RemoveLiquidityResult, err error) {
	defer p.metrics.observe(opSkim, p.bins.Variant())(&err)
	if err := p.enter(); err != nil {
		return res, err
	}
	defer p.exit()

	excess := p.SkimmableAmount()
	if excess.IsZero() {
		return emptyResult(), nil
	}
	ids := p.bins.BinIDs()
	res, err = p.pool.RemoveLiquidity(p.address, recipient, positionSubaccount, binamm.RemoveLiquidityParams{
		BinIDs:  ids[:1],
		Amounts: []*uint256.Int{excess},
	})
	if err != nil {
		return res, err
	}
	p.logger.Info("skimmed boosted position", "position", p.address.Hex(), "binID", ids[0], "amount", excess.Dec())
	return res, nil
}

// MigrateBinLiquidityToRoot moves a movement position out of a merged bin and
// into the root of its merge chain. It does nothing for static positions or for
// a bin that has not merged.
//
// Before anything is withdrawn the move is quoted against the root; a position
// worth no root tick balance fails with ErrMigrationTooSmall and stays put. Once
// the withdrawal succeeds the position always points at the root and tracks its
// true root balance. If the deposit then fails, the withdrawn tokens are parked
// on the position's address and the next call retries the deposit.
func (p *Position) MigrateBinLiquidityToRoot() (err error) {
	defer p.metrics.observe(opMigrate, p.bins.Variant())(&err)
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	slot, ok := p.bins.(*movementBin)
	if !ok {
		return nil
	}
	oldID := p.BinIDs()[0]
	amountA, amountB := p.ParkedAmounts()
	pending := !amountA.IsZero() || !amountB.IsZero()

	bin, err := p.pool.GetBin(oldID)
	if err != nil {
		return err
	}
	if !bin.IsMerged() && !pending {
		return nil
	}

	rootID := oldID
	if bin.IsMerged() {
		if rootID, err = p.resolveRoot(oldID); err != nil {
			return err
		}
		if balance := p.pool.BalanceOf(p.address, positionSubaccount, oldID); !balance.IsZero() {
			info, err := query.SubaccountPositionInformation(p.pool, p.address, positionSubaccount, []uint32{oldID})
			if err != nil {
				return err
			}
			quote, err := query.LpBalanceForTargetReserveAmounts(p.pool, rootID,
				new(uint256.Int).Add(amountA, info.AmountA), new(uint256.Int).Add(amountB, info.AmountB))
			if err != nil {
				return err
			}
			if quote.DeltaTickBalance.IsZero() {
				return fmt.Errorf("bin %d balance %s: %w", oldID, balance.Dec(), ErrMigrationTooSmall)
			}

			removed, err := p.pool.RemoveLiquidity(p.address, p.address, positionSubaccount, query.MaxRemoveParams(p.pool, p.address, positionSubaccount, oldID))
			if err != nil {
				return err
			}
			amountA.Add(amountA, removed.AmountA)
			amountB.Add(amountB, removed.AmountB)
		}
	}

	parkedA, parkedB := new(uint256.Int), new(uint256.Int)
	var addErr error
	if !amountA.IsZero() || !amountB.IsZero() {
		parkedA, parkedB, addErr = p.deposit(rootID, amountA, amountB)
	}

	p.mu.Lock()
	slot.id = rootID
	p.binBalances[0] = p.pool.BalanceOf(p.address, positionSubaccount, rootID)
	p.parkedA, p.parkedB = parkedA, parkedB
	balance := p.binBalances[0].Clone()
	p.mu.Unlock()

	if addErr != nil {
		p.logger.Error("migration deposit failed, tokens parked on position", "position", p.address.Hex(), "toBin", rootID, "parkedA", parkedA.Dec(), "parkedB", parkedB.Dec(), "error", addErr)
		return addErr
	}
	p.logger.Info("migrated boosted position", "position", p.address.Hex(), "fromBin", oldID, "toBin", rootID, "balance", balance.Dec())
	return nil
}

// resolveRoot collapses binID's merge chain in the pool and returns its root.
func (p *Position) resolveRoot(binID uint32) (uint32, error) {
	if err := p.pool.MigrateBinUpStack(binID, binamm.MaxMergeHops); err != nil {
		return 0, err
	}
	bin, err := p.pool.GetBin(binID)
	if err != nil {
		return 0, err
	}
	root, err := p.pool.GetBin(bin.MergeID)
	if err != nil {
		return 0, err
	}
	if root.IsMerged() {
		return 0, fmt.Errorf("bin %d still merged after migrating up the stack: %w", bin.MergeID, binamm.ErrMergeChainTooLong)
	}
	return bin.MergeID, nil
}

// deposit adds as much of amountA and amountB, held by the position's address, to
// toID as the bin's current rate allows. Dust the deposit cannot use stays with
// the address. On failure it returns the amounts still waiting to be deposited.
func (p *Position) deposit(toID uint32, amountA, amountB *uint256.Int) (parkedA, parkedB *uint256.Int, err error) {
	quote, err := query.LpBalanceForTargetReserveAmounts(p.pool, toID, amountA, amountB)
	if err != nil {
		return amountA, amountB, err
	}
	if quote.DeltaTickBalance.IsZero() {
		return amountA, amountB, fmt.Errorf("bin %d: %w", toID, ErrMigrationTooSmall)
	}
	added, err := p.pool.AddLiquidity(p.address, p.address, positionSubaccount, quote.Params)
	if err != nil {
		return amountA, amountB, err
	}
	if len(added.BinIDs) == 1 && added.BinIDs[0] == toID {
		return new(uint256.Int), new(uint256.Int), nil
	}

	// Whatever landed outside toID is withdrawn again and parked for the retry.
	mismatch := fmt.Errorf("expected bin %d, got %v: %w", toID, added.BinIDs, ErrMigrationTargetMismatch)
	parkedA, parkedB = new(uint256.Int), new(uint256.Int)
	for _, id := range added.BinIDs {
		if id == toID {
			continue
		}
		if p.pool.BalanceOf(p.address, positionSubaccount, id).IsZero() {
			continue
		}
		res, err := p.pool.RemoveLiquidity(p.address, p.address, positionSubaccount, query.MaxRemoveParams(p.pool, p.address, positionSubaccount, id))
		if err != nil {
			return parkedA, parkedB, errors.Join(mismatch, err)
		}
		parkedA.Add(parkedA, res.AmountA)
		parkedB.Add(parkedB, res.AmountB)
	}
	return parkedA, parkedB, mismatch
}

// requireSettled fails while the tracked bin has merged or a migration still has
// tokens to deposit.
func (p *Position) requireSettled() error {
	if err := p.bins.requireRoot(p.pool); err != nil {
		return err
	}
	amountA, amountB := p.ParkedAmounts()
	if !amountA.IsZero() || !amountB.IsZero() {
		return fmt.Errorf("%s A and %s B awaiting deposit: %w", amountA.Dec(), amountB.Dec(), ErrBinNotMigrated)
	}
	return nil
}

func (p *Position) enter() error {
	if !p.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (p *Position) exit() {
	p.entered.Store(false)
}

func (p *Position) trueBalances(ids []uint32) []*uint256.Int {
	out := make([]*uint256.Int, len(ids))
	for i, id := range ids {
		out[i] = p.pool.BalanceOf(p.address, positionSubaccount, id)
	}
	return out
}

func (p *Position) setBinBalances(balances []*uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.binBalances = cloneAll(balances)
}

func cloneAll(in []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}

func emptyResult() binamm.RemoveLiquidityResult {
	return binamm.RemoveLiquidityResult{AmountA: new(uint256.Int), AmountB: new(uint256.Int)}
}
