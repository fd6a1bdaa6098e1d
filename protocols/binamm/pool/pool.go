package pool

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/binmath"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/liquiditymath"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/tickmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// TokenLedger is the custody surface the pool needs from each of its tokens.
type TokenLedger interface {
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Config holds the pool's parameters and dependencies.
type Config struct {
	Address     common.Address
	TokenA      TokenLedger
	TokenB      TokenLedger
	TokenAScale *uint256.Int
	TokenBScale *uint256.Int
	TickSpacing uint32
	ActiveTick  int32
	Registry    prometheus.Registerer
	Logger      binamm.Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.TokenA == nil || c.TokenB == nil {
		return errors.New("config: TokenA and TokenB cannot be nil")
	}
	if c.TokenAScale == nil || c.TokenAScale.IsZero() || c.TokenBScale == nil || c.TokenBScale.IsZero() {
		return errors.New("config: token scales must be non-zero")
	}
	if c.TickSpacing == 0 {
		return tickmath.ErrInvalidTickSpacing
	}
	if _, err := tickmath.SubTickIndex(c.TickSpacing, c.ActiveTick); err != nil {
		return fmt.Errorf("config: active tick: %w", err)
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Pool is an in-memory bin AMM pool. It keeps bins in an arena indexed by id, ticks
// in a map, and per (owner, subaccount, bin) balances, and holds its tokens in the
// ledgers it was configured with. It is safe for concurrent use.
type Pool struct {
	address     common.Address
	tokenA      TokenLedger
	tokenB      TokenLedger
	scaleA      *uint256.Int
	scaleB      *uint256.Int
	tickSpacing uint32

	metrics *Metrics
	logger  binamm.Logger

	mu         sync.Mutex
	activeTick int32
	reserveA   *uint256.Int
	reserveB   *uint256.Int
	lastBinID  uint32
	bins       []binamm.BinState // bins[0] is unused; ids start at 1
	ticks      map[int32]binamm.TickState
	balances   map[balanceKey]*uint256.Int
}

var _ binamm.Pool = (*Pool)(nil)

// New constructs a pool from a configuration, returning an error if the config is invalid.
func New(cfg *Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Pool{
		address:     cfg.Address,
		tokenA:      cfg.TokenA,
		tokenB:      cfg.TokenB,
		scaleA:      cfg.TokenAScale.Clone(),
		scaleB:      cfg.TokenBScale.Clone(),
		tickSpacing: cfg.TickSpacing,
		metrics:     NewMetrics(cfg.Registry),
		logger:      cfg.Logger,
		activeTick:  cfg.ActiveTick,
		reserveA:    new(uint256.Int),
		reserveB:    new(uint256.Int),
		bins:        make([]binamm.BinState, 1),
		ticks:       make(map[int32]binamm.TickState),
		balances:    make(map[balanceKey]*uint256.Int),
	}, nil
}

// Address returns the account that holds the pool's tokens.
func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) TickSpacing() uint32 { return p.tickSpacing }
func (p *Pool) TokenAScale() *uint256.Int { return p.scaleA.Clone() }
func (p *Pool) TokenBScale() *uint256.Int { return p.scaleB.Clone() }

// AddLiquidity deposits params.Amounts[i] bin units into the params.Kind bin at
// params.Ticks[i] for recipient, pulling the rounded-up token cost from sender.
func (p *Pool) AddLiquidity(sender, recipient common.Address, subaccount uint64, params binamm.AddLiquidityParams) (res binamm.AddLiquidityResult, err error) {
	defer p.metrics.observe(opAddLiquidity)(&err)

	if !params.Kind.Valid() {
		return res, fmt.Errorf("%s: %w", params.Kind, binamm.ErrWrongKind)
	}
	if len(params.Ticks) != len(params.Amounts) {
		return res, fmt.Errorf("%d ticks, %d amounts: %w", len(params.Ticks), len(params.Amounts), binamm.ErrLengthMismatch)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := p.begin()
	totalA, totalB := new(uint256.Int), new(uint256.Int)
	res.BinIDs = make([]uint32, len(params.Ticks))
	for i, tick := range params.Ticks {
		binID, delta, err := tx.depositIntoBin(params.Kind, tick, params.Amounts[i])
		if err != nil {
			return binamm.AddLiquidityResult{}, &binamm.IndexError{Index: i, Err: err}
		}
		k := balanceKey{owner: recipient, subaccount: subaccount, binID: binID}
		bal := tx.balance(k)
		bal.Add(bal, params.Amounts[i])

		totalA.Add(totalA, delta.DeltaA)
		totalB.Add(totalB, delta.DeltaB)
		res.BinIDs[i] = binID
	}

	if res.AmountA, err = fixedpoint.AmmScaleToTokenScale(totalA, p.scaleA, fixedpoint.Ceil); err != nil {
		return binamm.AddLiquidityResult{}, err
	}
	if res.AmountB, err = fixedpoint.AmmScaleToTokenScale(totalB, p.scaleB, fixedpoint.Ceil); err != nil {
		return binamm.AddLiquidityResult{}, err
	}
	if err := p.settle(sender, p.address, res.AmountA, res.AmountB); err != nil {
		return binamm.AddLiquidityResult{}, err
	}
	tx.commit()

	p.logger.Debug("liquidity added",
		"sender", sender, "recipient", recipient, "subaccount", subaccount,
		"kind", params.Kind.String(), "bins", res.BinIDs,
		"amountA", res.AmountA.Dec(), "amountB", res.AmountB.Dec(),
	)
	return res, nil
}

// RemoveLiquidity burns sender's params.Amounts[i] units of params.BinIDs[i] and pays
// the rounded-down token amounts to recipient. Units of a merged bin are followed
// through its merge chain to the root bin.
func (p *Pool) RemoveLiquidity(sender, recipient common.Address, subaccount uint64, params binamm.RemoveLiquidityParams) (res binamm.RemoveLiquidityResult, err error) {
	defer p.metrics.observe(opRemoveLiquidity)(&err)

	if len(params.BinIDs) != len(params.Amounts) {
		return res, fmt.Errorf("%d bins, %d amounts: %w", len(params.BinIDs), len(params.Amounts), binamm.ErrLengthMismatch)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := p.begin()
	totalA, totalB := new(uint256.Int), new(uint256.Int)
	for i, binID := range params.BinIDs {
		amount := params.Amounts[i]
		bal := tx.balance(balanceKey{owner: sender, subaccount: subaccount, binID: binID})
		if bal.Lt(amount) {
			return res, &binamm.IndexError{Index: i, Err: fmt.Errorf("bin %d balance %s below %s: %w", binID, bal.Dec(), amount.Dec(), binamm.ErrInsufficientBalance)}
		}
		bal.Sub(bal, amount)

		a, b, err := tx.withdrawFromBin(binID, amount)
		if err != nil {
			return res, &binamm.IndexError{Index: i, Err: err}
		}
		totalA.Add(totalA, a)
		totalB.Add(totalB, b)
	}

	if res.AmountA, err = fixedpoint.AmmScaleToTokenScale(totalA, p.scaleA, fixedpoint.Floor); err != nil {
		return binamm.RemoveLiquidityResult{}, err
	}
	if res.AmountB, err = fixedpoint.AmmScaleToTokenScale(totalB, p.scaleB, fixedpoint.Floor); err != nil {
		return binamm.RemoveLiquidityResult{}, err
	}
	if err := p.settle(p.address, recipient, res.AmountA, res.AmountB); err != nil {
		return binamm.RemoveLiquidityResult{}, err
	}
	tx.commit()

	p.logger.Debug("liquidity removed",
		"sender", sender, "recipient", recipient, "subaccount", subaccount,
		"bins", params.BinIDs, "amountA", res.AmountA.Dec(), "amountB", res.AmountB.Dec(),
	)
	return res, nil
}

// MigrateBinUpStack re-points a merged bin past merged intermediates, at most
// maxHops of them (0 means MaxMergeHops), so that its merge id names the root bin
// directly. The bin's merge balance is restated in units of the new target.
func (p *Pool) MigrateBinUpStack(binID uint32, maxHops uint32) (err error) {
	defer p.metrics.observe(opMigrateBinUpStack)(&err)

	if maxHops == 0 || maxHops > binamm.MaxMergeHops {
		maxHops = binamm.MaxMergeHops
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := p.begin()
	bin, err := tx.bin(binID)
	if err != nil {
		return err
	}
	if !bin.IsMerged() {
		return nil
	}

	var hops uint32
	for ; hops < maxHops; hops++ {
		targetID := bin.MergeID
		target, err := tx.bin(targetID)
		if err != nil {
			return err
		}
		if !target.IsMerged() {
			break
		}
		share, err := prorate(bin.MergeBinBalance, target.MergeBinBalance, target.TotalSupply)
		if err != nil {
			return err
		}
		target.TotalSupply = fixedpoint.Clip(target.TotalSupply, bin.MergeBinBalance)
		target.MergeBinBalance = fixedpoint.Clip(target.MergeBinBalance, share)
		tx.putBin(targetID, target)

		bin.MergeBinBalance = share
		bin.MergeID = target.MergeID
	}
	tx.putBin(binID, bin)
	tx.commit()

	if hops > 0 {
		p.logger.Debug("bin migrated up stack", "bin", binID, "mergeId", bin.MergeID, "hops", hops)
	}
	return nil
}

// MergeBins folds binID into targetID, the way a moving bin is absorbed when it
// lands on a tick that already has a bin of its kind. The merged bin's reserves
// leave its tick and join the target's tick; the merged bin keeps a balance in
// the target and no tick balance of its own.
func (p *Pool) MergeBins(binID, targetID uint32) (err error) {
	defer p.metrics.observe(opMergeBins)(&err)

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := p.begin()
	bin, err := tx.bin(binID)
	if err != nil {
		return err
	}
	target, err := tx.bin(targetID)
	if err != nil {
		return err
	}
	switch {
	case binID == targetID:
		return fmt.Errorf("bin %d cannot merge into itself: %w", binID, binamm.ErrMergeChainTooLong)
	case bin.IsMerged():
		return fmt.Errorf("bin %d: %w", binID, binamm.ErrBinMerged)
	case target.IsMerged():
		return fmt.Errorf("bin %d: %w", targetID, binamm.ErrBinMerged)
	case bin.Kind == binamm.KindStatic || bin.Kind != target.Kind:
		return fmt.Errorf("merge %s bin into %s bin: %w", bin.Kind, target.Kind, binamm.ErrWrongKind)
	}

	fromTick := tx.tick(bin.Tick)
	amountA, amountB, err := binmath.BinReserves(bin.TickBalance, fromTick.ReserveA, fromTick.ReserveB, fromTick.TotalSupply)
	if err != nil {
		return err
	}
	if err := tx.debitTick(&fromTick, bin.TickBalance, amountA, amountB); err != nil {
		return err
	}
	if fromTick.BinIDsByTick[bin.Kind] == binID {
		fromTick.BinIDsByTick[bin.Kind] = 0
	}
	tx.putTick(bin.Tick, fromTick)

	toTick := tx.tick(target.Tick)
	lower, upper, err := p.tickBounds(target.Tick)
	if err != nil {
		return err
	}
	tickBalance, err := binmath.LpBalanceFromReserves(new(uint256.Int), new(uint256.Int), binmath.TickData{
		Tick:        target.Tick,
		ActiveTick:  p.activeTick,
		ReserveA:    toTick.ReserveA,
		ReserveB:    toTick.ReserveB,
		TotalSupply: toTick.TotalSupply,
		SqrtLower:   lower,
		SqrtUpper:   upper,
	}, amountA, amountB)
	if err != nil {
		return err
	}
	if tickBalance.IsZero() && !bin.TotalSupply.IsZero() {
		return fmt.Errorf("merge bin %d into %d: %w", binID, targetID, binamm.ErrZeroLiquidity)
	}
	if err := tx.creditTick(&toTick, tickBalance, amountA, amountB); err != nil {
		return err
	}
	tx.putTick(target.Tick, toTick)

	mergeBalance := tickBalance.Clone()
	if !target.TickBalance.IsZero() {
		if mergeBalance, err = fixedpoint.MulDivFloor(tickBalance, target.TotalSupply, target.TickBalance); err != nil {
			return err
		}
	}
	if target.TickBalance, err = liquiditymath.AddDelta(target.TickBalance, tickBalance); err != nil {
		return err
	}
	if target.TotalSupply, err = liquiditymath.AddDelta(target.TotalSupply, mergeBalance); err != nil {
		return err
	}
	tx.putBin(targetID, target)

	bin.TickBalance = new(uint256.Int)
	bin.MergeBinBalance = mergeBalance
	bin.MergeID = targetID
	tx.putBin(binID, bin)
	tx.commit()

	p.logger.Info("bins merged", "bin", binID, "into", targetID, "mergeBinBalance", mergeBalance.Dec())
	return nil
}

// SetActiveTick moves the pool's price to tick, standing in for swaps.
func (p *Pool) SetActiveTick(tick int32) error {
	if _, err := tickmath.SubTickIndex(p.tickSpacing, tick); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTick = tick
	return nil
}

// GetBin returns a copy of a bin's state.
func (p *Pool) GetBin(binID uint32) (binamm.BinState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if binID == 0 || binID > p.lastBinID {
		return binamm.BinState{}, fmt.Errorf("bin %d: %w", binID, binamm.ErrUnknownBin)
	}
	return binamm.CopyBinState(p.bins[binID]), nil
}

// GetTick returns a copy of a tick's state; a tick never touched is all zero.
func (p *Pool) GetTick(tick int32) binamm.TickState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickState(tick)
}

// GetState returns a copy of the pool-wide state.
func (p *Pool) GetState() binamm.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state()
}

// BalanceOf returns owner's bin units in binID under subaccount.
func (p *Pool) BalanceOf(owner common.Address, subaccount uint64, binID uint32) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balanceOf(balanceKey{owner: owner, subaccount: subaccount, binID: binID}).Clone()
}

// Snapshot returns a deep copy of every tick and bin, ordered by index and id.
func (p *Pool) Snapshot() binamm.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := binamm.PoolSnapshot{
		State: p.state(),
		Ticks: make([]binamm.TickView, 0, len(p.ticks)),
		Bins:  make([]binamm.BinView, 0, p.lastBinID),
	}
	for index, t := range p.ticks {
		snap.Ticks = append(snap.Ticks, binamm.TickView{Index: index, TickState: binamm.CopyTickState(t)})
	}
	slices.SortFunc(snap.Ticks, func(a, b binamm.TickView) int { return cmp.Compare(a.Index, b.Index) })
	for id := uint32(1); id <= p.lastBinID; id++ {
		snap.Bins = append(snap.Bins, binamm.BinView{ID: id, BinState: binamm.CopyBinState(p.bins[id])})
	}
	return snap
}

func (p *Pool) state() binamm.PoolState {
	return binamm.PoolState{
		ActiveTick: p.activeTick,
		ReserveA:   p.reserveA.Clone(),
		ReserveB:   p.reserveB.Clone(),
		LastBinID:  p.lastBinID,
	}
}

func (p *Pool) tickState(index int32) binamm.TickState {
	if t, ok := p.ticks[index]; ok {
		return binamm.CopyTickState(t)
	}
	return binamm.TickState{
		ReserveA:    new(uint256.Int),
		ReserveB:    new(uint256.Int),
		TotalSupply: new(uint256.Int),
	}
}

func (p *Pool) balanceOf(k balanceKey) *uint256.Int {
	if b, ok := p.balances[k]; ok {
		return b
	}
	return new(uint256.Int)
}

func (p *Pool) tickBounds(tick int32) (lower, upper *uint256.Int, err error) {
	return tickmath.TickSqrtPrices(p.tickSpacing, tick)
}

// settle moves both token amounts from one account to another after checking both
// balances, so either both transfers happen or neither does.
func (p *Pool) settle(from, to common.Address, amountA, amountB *uint256.Int) error {
	if have := p.tokenA.BalanceOf(from); have.Lt(amountA) {
		return fmt.Errorf("token A: %s has %s, needs %s: %w", from.Hex(), have.Dec(), amountA.Dec(), binamm.ErrInsufficientBalance)
	}
	if have := p.tokenB.BalanceOf(from); have.Lt(amountB) {
		return fmt.Errorf("token B: %s has %s, needs %s: %w", from.Hex(), have.Dec(), amountB.Dec(), binamm.ErrInsufficientBalance)
	}
	if !amountA.IsZero() {
		if err := p.tokenA.Transfer(from, to, amountA); err != nil {
			return err
		}
	}
	if !amountB.IsZero() {
		if err := p.tokenB.Transfer(from, to, amountB); err != nil {
			return err
		}
	}
	return nil
}
