package boosted

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/pool"
	"github.com/defistate/binamm-go/protocols/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolAddress    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	factoryAddress = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	alice          = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob            = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol          = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	e18 = uint256.NewInt(1e18)
)

// units returns n whole 18-decimal units.
func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), e18)
}

type testEnv struct {
	pool    *pool.Pool
	tokenA  *token.Ledger
	tokenB  *token.Ledger
	factory *Factory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		tokenA: token.NewLedger(token.Token{Symbol: "TKA", Decimals: 18}),
		tokenB: token.NewLedger(token.Token{Symbol: "TKB", Decimals: 18}),
	}
	funding := uint256.MustFromDecimal("1000000000000000000000000000")
	for _, who := range []common.Address{alice, bob} {
		require.NoError(t, env.tokenA.Mint(who, funding))
		require.NoError(t, env.tokenB.Mint(who, funding))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	env.pool, err = pool.New(&pool.Config{
		Address:     poolAddress,
		TokenA:      env.tokenA,
		TokenB:      env.tokenB,
		TokenAScale: uint256.NewInt(1),
		TokenBScale: uint256.NewInt(1),
		TickSpacing: 10,
		ActiveTick:  0,
		Registry:    prometheus.NewRegistry(),
		Logger:      logger,
	})
	require.NoError(t, err)
	env.factory = env.newFactory(t, env.pool)
	return env
}

func (env *testEnv) newFactory(t *testing.T, p binamm.Pool) *Factory {
	t.Helper()
	f, err := NewFactory(&FactoryConfig{
		Address:  factoryAddress,
		Pool:     p,
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return f
}

// seed creates one bin of kind per tick, owned by alice.
func (env *testEnv) seed(t *testing.T, kind binamm.Kind, ticks ...int32) []uint32 {
	t.Helper()
	amounts := make([]*uint256.Int, len(ticks))
	for i := range amounts {
		amounts[i] = units(1)
	}
	res, err := env.pool.AddLiquidity(alice, alice, 0, binamm.AddLiquidityParams{Kind: kind, Ticks: ticks, Amounts: amounts})
	require.NoError(t, err)
	require.Len(t, res.BinIDs, len(ticks))
	return res.BinIDs
}

// deposit adds lp units of binID to the position on behalf of who.
func (env *testEnv) deposit(t *testing.T, who common.Address, pos *Position, binID uint32, lp *uint256.Int) binamm.AddLiquidityResult {
	t.Helper()
	bin, err := env.pool.GetBin(binID)
	require.NoError(t, err)
	res, err := env.pool.AddLiquidity(who, pos.Address(), 0, binamm.AddLiquidityParams{
		Kind:    bin.Kind,
		Ticks:   []int32{bin.Tick},
		Amounts: []*uint256.Int{lp},
	})
	require.NoError(t, err)
	return res
}

func ratios(values ...uint64) []*uint256.Int {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		out[i] = new(uint256.Int).Mul(uint256.NewInt(v), e18)
	}
	return out
}

func TestStaticMint_Ratio(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindStatic, 0, 1)
	pos, err := env.factory.CreateStatic(bins, ratios(1, 2))
	require.NoError(t, err)

	t.Run("deposit at the ratio mints the anchor amount", func(t *testing.T) {
		env.deposit(t, alice, pos, bins[0], units(100))
		env.deposit(t, alice, pos, bins[1], units(200))

		minted, err := pos.Mint(alice)
		require.NoError(t, err)
		assert.Equal(t, units(100), minted)
		assert.Equal(t, units(100), pos.BalanceOf(alice))
		assert.Equal(t, []*uint256.Int{units(100), units(200)}, pos.BinBalances())
	})

	t.Run("short second bin fails naming index 1", func(t *testing.T) {
		env.deposit(t, alice, pos, bins[0], units(100))
		env.deposit(t, alice, pos, bins[1], units(150))

		_, err := pos.Mint(alice)
		require.ErrorIs(t, err, ErrInsufficientLiquidityAdded)
		var ratioErr *InsufficientLiquidityError
		require.True(t, errors.As(err, &ratioErr))
		assert.Equal(t, 1, ratioErr.BinIndex)
		assert.Equal(t, bins[1], ratioErr.BinID)
		assert.Equal(t, units(200), ratioErr.Required)
		assert.Equal(t, units(150), ratioErr.Added)

		assert.Equal(t, units(100), pos.TotalSupply(), "no partial mint")
		assert.Equal(t, []*uint256.Int{units(100), units(200)}, pos.BinBalances())
	})

	t.Run("topping up the short bin mints pro rata", func(t *testing.T) {
		env.deposit(t, alice, pos, bins[1], units(50))

		minted, err := pos.Mint(bob)
		require.NoError(t, err)
		assert.Equal(t, units(100), minted)
		assert.Equal(t, units(200), pos.TotalSupply())

		balances := pos.BinBalances()
		floor := new(uint256.Int).Mul(balances[0], uint256.NewInt(2))
		assert.False(t, balances[1].Lt(floor), "bin 1 holds at least twice the anchor")
	})

	t.Run("nothing new to mint", func(t *testing.T) {
		_, err := pos.Mint(alice)
		require.ErrorIs(t, err, ErrZeroDeltaSupply)
	})
}

func TestMintThenBurn_NeverReturnsMore(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindStatic, -1, 0, 1)
	pos, err := env.factory.CreateStatic(bins, ratios(1, 3, 2))
	require.NoError(t, err)

	beforeA, beforeB := env.tokenA.BalanceOf(alice), env.tokenB.BalanceOf(alice)
	env.deposit(t, alice, pos, bins[0], units(7))
	env.deposit(t, alice, pos, bins[1], units(21))
	env.deposit(t, alice, pos, bins[2], units(14))

	minted, err := pos.Mint(alice)
	require.NoError(t, err)

	res, err := pos.Burn(alice, alice, minted)
	require.NoError(t, err)
	assert.False(t, res.AmountA.IsZero() && res.AmountB.IsZero())

	assert.True(t, env.tokenA.BalanceOf(alice).Cmp(beforeA) <= 0)
	assert.True(t, env.tokenB.BalanceOf(alice).Cmp(beforeB) <= 0)
	assert.True(t, pos.TotalSupply().IsZero())
	for i, b := range pos.BinBalances() {
		assert.True(t, b.IsZero(), "bin %d", i)
		assert.True(t, env.pool.BalanceOf(pos.Address(), 0, bins[i]).IsZero(), "bin %d", i)
	}
}

func TestBurn(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindStatic, 0, 1)
	pos, err := env.factory.CreateStatic(bins, ratios(1, 2))
	require.NoError(t, err)
	env.deposit(t, alice, pos, bins[0], units(100))
	env.deposit(t, alice, pos, bins[1], units(200))
	_, err = pos.Mint(alice)
	require.NoError(t, err)

	t.Run("more than held", func(t *testing.T) {
		_, err := pos.Burn(bob, bob, units(1))
		require.ErrorIs(t, err, ErrInsufficientShares)
		assert.Equal(t, units(100), pos.TotalSupply())
	})

	t.Run("partial burn pays the recipient", func(t *testing.T) {
		res, err := pos.Burn(alice, carol, units(25))
		require.NoError(t, err)
		assert.Equal(t, res.AmountB, env.tokenB.BalanceOf(carol))
		assert.Equal(t, res.AmountA, env.tokenA.BalanceOf(carol))
		assert.Equal(t, units(75), pos.BalanceOf(alice))
		assert.Equal(t, []*uint256.Int{units(75), units(150)}, pos.BinBalances())
		for i, id := range bins {
			assert.Equal(t, pos.BinBalances()[i], env.pool.BalanceOf(pos.Address(), 0, id))
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		res, err := pos.Burn(alice, alice, new(uint256.Int))
		require.NoError(t, err)
		assert.True(t, res.AmountA.IsZero())
		assert.True(t, res.AmountB.IsZero())
	})
}

func TestSkim(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindStatic, 0, 1)

	t.Run("multi bin", func(t *testing.T) {
		pos, err := env.factory.CreateStatic(bins, ratios(1, 2))
		require.NoError(t, err)
		env.deposit(t, alice, pos, bins[0], units(100))
		env.deposit(t, alice, pos, bins[1], units(200))
		_, err = pos.Mint(alice)
		require.NoError(t, err)

		env.deposit(t, bob, pos, bins[0], units(40))
		assert.Equal(t, units(40), pos.SkimmableAmount())

		res, err := pos.Skim(carol)
		require.NoError(t, err)
		assert.False(t, res.AmountB.IsZero())
		assert.Equal(t, res.AmountB, env.tokenB.BalanceOf(carol))
		assert.True(t, pos.SkimmableAmount().IsZero())
		assert.Equal(t, units(100), env.pool.BalanceOf(pos.Address(), 0, bins[0]))
		assert.Equal(t, units(100), pos.TotalSupply())

		res, err = pos.Skim(carol)
		require.NoError(t, err)
		assert.True(t, res.AmountA.IsZero() && res.AmountB.IsZero())
	})

	t.Run("single bin is a no-op", func(t *testing.T) {
		pos, err := env.factory.CreateStatic(bins[:1], ratios(1))
		require.NoError(t, err)
		env.deposit(t, alice, pos, bins[0], units(10))

		assert.True(t, pos.SkimmableAmount().IsZero())
		res, err := pos.Skim(carol)
		require.NoError(t, err)
		assert.True(t, res.AmountA.IsZero() && res.AmountB.IsZero())
		assert.Equal(t, units(10), env.pool.BalanceOf(pos.Address(), 0, bins[0]))
	})
}

func TestDynamicMigration(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindRight, 1, 3)
	moving, root := bins[0], bins[1]

	pos, err := env.factory.CreateDynamic(moving)
	require.NoError(t, err)
	assert.Equal(t, binamm.KindRight, pos.Kind())
	assert.Equal(t, variantMovement, pos.Variant())
	assert.Equal(t, []*uint256.Int{e18.Clone()}, pos.Ratios())

	env.deposit(t, alice, pos, moving, units(10))
	minted, err := pos.Mint(alice)
	require.NoError(t, err)

	require.NoError(t, pos.MigrateBinLiquidityToRoot(), "unmerged bin is a no-op")
	assert.Equal(t, []uint32{moving}, pos.BinIDs())

	require.NoError(t, env.pool.MergeBins(moving, root))

	_, err = pos.Mint(alice)
	require.ErrorIs(t, err, ErrBinNotMigrated)
	_, err = pos.Burn(alice, alice, minted)
	require.ErrorIs(t, err, ErrBinNotMigrated)

	require.NoError(t, pos.MigrateBinLiquidityToRoot())

	assert.Equal(t, []uint32{root}, pos.BinIDs())
	ticks, err := pos.Ticks()
	require.NoError(t, err)
	assert.Equal(t, []int32{3}, ticks)
	trueBalance := env.pool.BalanceOf(pos.Address(), 0, root)
	assert.False(t, trueBalance.IsZero())
	assert.Equal(t, []*uint256.Int{trueBalance}, pos.BinBalances())
	assert.True(t, env.pool.BalanceOf(pos.Address(), 0, moving).IsZero())
	assert.Empty(t, env.factory.Lookup(moving))
	assert.Equal(t, []*Position{pos}, env.factory.Lookup(root))

	res, err := pos.Burn(alice, alice, minted)
	require.NoError(t, err)
	assert.False(t, res.AmountB.IsZero())
	assert.True(t, pos.TotalSupply().IsZero())
}

func TestDynamicMigration_ChainResolvesToRoot(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindRight, 1, 3, 5)

	pos, err := env.factory.CreateDynamic(bins[0])
	require.NoError(t, err)
	env.deposit(t, alice, pos, bins[0], units(10))
	_, err = pos.Mint(alice)
	require.NoError(t, err)

	require.NoError(t, env.pool.MergeBins(bins[0], bins[1]))
	require.NoError(t, env.pool.MergeBins(bins[1], bins[2]))

	require.NoError(t, pos.MigrateBinLiquidityToRoot())
	assert.Equal(t, []uint32{bins[2]}, pos.BinIDs())
	assert.Equal(t, env.pool.BalanceOf(pos.Address(), 0, bins[2]), pos.BinBalances()[0])
	assert.False(t, pos.BinBalances()[0].IsZero())
}

// hookPool lets a test intercept pool calls a position makes.
type hookPool struct {
	*pool.Pool
	onRemove func()
	onAdd    func(res *binamm.AddLiquidityResult)
	addErr   error
}

func (h *hookPool) RemoveLiquidity(sender, recipient common.Address, subaccount uint64, params binamm.RemoveLiquidityParams) (binamm.RemoveLiquidityResult, error) {
	if h.onRemove != nil {
		h.onRemove()
	}
	return h.Pool.RemoveLiquidity(sender, recipient, subaccount, params)
}

func (h *hookPool) AddLiquidity(sender, recipient common.Address, subaccount uint64, params binamm.AddLiquidityParams) (binamm.AddLiquidityResult, error) {
	if h.addErr != nil {
		return binamm.AddLiquidityResult{}, h.addErr
	}
	res, err := h.Pool.AddLiquidity(sender, recipient, subaccount, params)
	if err == nil && h.onAdd != nil {
		h.onAdd(&res)
	}
	return res, err
}

func TestReentrancy(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindStatic, 0, 1)
	hooked := &hookPool{Pool: env.pool}
	pos, err := env.newFactory(t, hooked).CreateStatic(bins, ratios(1, 1))
	require.NoError(t, err)

	env.deposit(t, alice, pos, bins[0], units(5))
	env.deposit(t, alice, pos, bins[1], units(5))
	minted, err := pos.Mint(alice)
	require.NoError(t, err)

	var nested []error
	hooked.onRemove = func() {
		_, err := pos.Mint(alice)
		nested = append(nested, err)
		_, err = pos.Skim(alice)
		nested = append(nested, err)
		nested = append(nested, pos.MigrateBinLiquidityToRoot())
	}
	_, err = pos.Burn(alice, alice, minted)
	require.NoError(t, err)
	require.Len(t, nested, 3)
	for _, err := range nested {
		assert.ErrorIs(t, err, ErrReentrantCall)
	}

	hooked.onRemove = nil
	_, err = pos.Mint(alice)
	assert.ErrorIs(t, err, ErrZeroDeltaSupply, "guard released after the outer call")
}

// assertTracksPool checks the tracked balance of every bin against the pool.
func assertTracksPool(t *testing.T, env *testEnv, pos *Position) {
	t.Helper()
	tracked := pos.BinBalances()
	for i, id := range pos.BinIDs() {
		assert.Equal(t, env.pool.BalanceOf(pos.Address(), 0, id), tracked[i], "bin %d", id)
	}
}

func TestMigration_TargetMismatch(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindLeft, -1, -3)
	hooked := &hookPool{Pool: env.pool}
	pos, err := env.newFactory(t, hooked).CreateDynamic(bins[0])
	require.NoError(t, err)

	env.deposit(t, alice, pos, bins[0], units(10))
	minted, err := pos.Mint(alice)
	require.NoError(t, err)
	require.NoError(t, env.pool.MergeBins(bins[0], bins[1]))

	hooked.onAdd = func(res *binamm.AddLiquidityResult) {
		res.BinIDs = []uint32{bins[0]}
	}
	err = pos.MigrateBinLiquidityToRoot()
	require.ErrorIs(t, err, ErrMigrationTargetMismatch)

	// the deposit did reach the root, so the position follows it
	assert.Equal(t, []uint32{bins[1]}, pos.BinIDs())
	assert.False(t, pos.BinBalances()[0].IsZero())
	assertTracksPool(t, env, pos)
	parkedA, parkedB := pos.ParkedAmounts()
	assert.True(t, parkedA.IsZero() && parkedB.IsZero())

	hooked.onAdd = nil
	_, err = pos.Burn(alice, alice, minted)
	require.NoError(t, err)
}

func TestMigration_FailedDepositIsParkedAndRetried(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindRight, 1, 3)
	moving, root := bins[0], bins[1]
	hooked := &hookPool{Pool: env.pool}
	pos, err := env.newFactory(t, hooked).CreateDynamic(moving)
	require.NoError(t, err)

	env.deposit(t, alice, pos, moving, units(10))
	minted, err := pos.Mint(alice)
	require.NoError(t, err)
	require.NoError(t, env.pool.MergeBins(moving, root))

	addFailed := errors.New("add failed")
	hooked.addErr = addFailed
	err = pos.MigrateBinLiquidityToRoot()
	require.ErrorIs(t, err, addFailed)

	assert.Equal(t, []uint32{root}, pos.BinIDs())
	assertTracksPool(t, env, pos)
	assert.True(t, env.pool.BalanceOf(pos.Address(), 0, moving).IsZero())

	parkedA, parkedB := pos.ParkedAmounts()
	assert.False(t, parkedA.IsZero() && parkedB.IsZero())
	assert.Equal(t, env.tokenA.BalanceOf(pos.Address()), parkedA)
	assert.Equal(t, env.tokenB.BalanceOf(pos.Address()), parkedB)

	_, err = pos.Mint(alice)
	require.ErrorIs(t, err, ErrBinNotMigrated)
	_, err = pos.Burn(alice, alice, minted)
	require.ErrorIs(t, err, ErrBinNotMigrated)
	assert.Equal(t, minted, pos.TotalSupply())

	t.Run("retry deposits the parked tokens", func(t *testing.T) {
		hooked.addErr = nil
		require.NoError(t, pos.MigrateBinLiquidityToRoot())

		assert.Equal(t, []uint32{root}, pos.BinIDs())
		assert.False(t, pos.BinBalances()[0].IsZero())
		assertTracksPool(t, env, pos)
		parkedA, parkedB := pos.ParkedAmounts()
		assert.True(t, parkedA.IsZero() && parkedB.IsZero())

		res, err := pos.Burn(alice, alice, minted)
		require.NoError(t, err)
		assert.False(t, res.AmountB.IsZero())
		assert.True(t, pos.TotalSupply().IsZero())
	})
}

func TestMigration_DustPositionStaysPut(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindRight, 1, 3)
	moving, root := bins[0], bins[1]
	pos, err := env.factory.CreateDynamic(moving)
	require.NoError(t, err)

	dust := uint256.NewInt(1000)
	env.deposit(t, alice, pos, moving, dust)
	minted, err := pos.Mint(alice)
	require.NoError(t, err)
	require.NoError(t, env.pool.MergeBins(moving, root))

	err = pos.MigrateBinLiquidityToRoot()
	require.ErrorIs(t, err, ErrMigrationTooSmall)

	assert.Equal(t, []uint32{moving}, pos.BinIDs())
	assert.Equal(t, []*uint256.Int{dust}, pos.BinBalances())
	assertTracksPool(t, env, pos)
	assert.True(t, env.pool.BalanceOf(pos.Address(), 0, root).IsZero())
	assert.True(t, env.tokenA.BalanceOf(pos.Address()).IsZero())
	assert.True(t, env.tokenB.BalanceOf(pos.Address()).IsZero())
	assert.Equal(t, minted, pos.TotalSupply())

	_, err = pos.Mint(bob)
	require.ErrorIs(t, err, ErrBinNotMigrated, "no mint against an untracked root")
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	bins := env.seed(t, binamm.KindStatic, 0, 1)
	pos, err := env.factory.CreateStatic(bins, ratios(1, 2))
	require.NoError(t, err)

	env.deposit(t, alice, pos, bins[0], units(1))
	env.deposit(t, alice, pos, bins[1], units(1))
	_, err = pos.Mint(alice)
	require.Error(t, err)
	env.deposit(t, alice, pos, bins[1], units(1))
	_, err = pos.Mint(alice)
	require.NoError(t, err)

	m := env.factory.metrics
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues(opMint, variantStatic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues(opMint)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues(opCreate, variantStatic)))
}
