package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/defistate/binamm-go/cmd/binamm/config"
	"github.com/defistate/binamm-go/protocols/binamm"
	"github.com/defistate/binamm-go/protocols/binamm/boosted"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/pool"
	"github.com/defistate/binamm-go/protocols/binamm/query"
	"github.com/defistate/binamm-go/protocols/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	errUnknownPosition = errors.New("unknown position index")
	errDiffDrift       = errors.New("patched snapshot differs from pool")
)

// simulator runs scenario steps against an in-memory pool and its positions.
type simulator struct {
	pool      *pool.Pool
	tokenA    *token.Ledger
	tokenB    *token.Ledger
	factory   *boosted.Factory
	accounts  map[string]common.Address
	positions []*boosted.Position
	snapshot  binamm.PoolSnapshot
	logger    *slog.Logger
}

// accountAddress returns the configured address, or one derived from the name.
func accountAddress(a config.AccountConfig) common.Address {
	if a.Address != "" {
		return common.HexToAddress(a.Address)
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(a.Name)))
}

func newSimulator(s *config.Scenario, reg prometheus.Registerer, logger *slog.Logger) (*simulator, error) {
	tokenA := token.NewLedger(token.Token{
		Address:  common.BytesToAddress(crypto.Keccak256([]byte("token:" + s.Pool.TokenA.Symbol))),
		Symbol:   s.Pool.TokenA.Symbol,
		Decimals: s.Pool.TokenA.Decimals,
	})
	tokenB := token.NewLedger(token.Token{
		Address:  common.BytesToAddress(crypto.Keccak256([]byte("token:" + s.Pool.TokenB.Symbol))),
		Symbol:   s.Pool.TokenB.Symbol,
		Decimals: s.Pool.TokenB.Decimals,
	})
	scaleA, err := tokenA.Token().Scale()
	if err != nil {
		return nil, err
	}
	scaleB, err := tokenB.Token().Scale()
	if err != nil {
		return nil, err
	}

	poolAddress := crypto.CreateAddress(tokenA.Token().Address, 0)
	p, err := pool.New(&pool.Config{
		Address:     poolAddress,
		TokenA:      tokenA,
		TokenB:      tokenB,
		TokenAScale: scaleA,
		TokenBScale: scaleB,
		TickSpacing: s.Pool.TickSpacing,
		ActiveTick:  s.Pool.ActiveTick,
		Registry:    reg,
		Logger:      logger.With("component", "pool"),
	})
	if err != nil {
		return nil, err
	}
	factory, err := boosted.NewFactory(&boosted.FactoryConfig{
		Address:  crypto.CreateAddress(poolAddress, 0),
		Pool:     p,
		Registry: reg,
		Logger:   logger.With("component", "boosted"),
	})
	if err != nil {
		return nil, err
	}

	sim := &simulator{
		pool:     p,
		tokenA:   tokenA,
		tokenB:   tokenB,
		factory:  factory,
		accounts: make(map[string]common.Address, len(s.Accounts)),
		snapshot: p.Snapshot(),
		logger:   logger.With("component", "simulator"),
	}
	for _, a := range s.Accounts {
		address := accountAddress(a)
		sim.accounts[a.Name] = address
		for _, fund := range []struct {
			ledger *token.Ledger
			amount string
		}{{tokenA, a.FundA}, {tokenB, a.FundB}} {
			if fund.amount == "" {
				continue
			}
			amount, err := parseAmount(fund.amount)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", a.Name, err)
			}
			if err := fund.ledger.Mint(address, amount); err != nil {
				return nil, fmt.Errorf("account %s: %w", a.Name, err)
			}
		}
	}
	return sim, nil
}

// run applies every step in order and stops at the first failure.
func (sim *simulator) run(steps []config.StepConfig) error {
	for i, step := range steps {
		if err := sim.apply(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if err := sim.reportChanges(i, step.Op); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}
	return nil
}

func (sim *simulator) apply(step config.StepConfig) error {
	account := sim.accounts[step.Account]
	recipient := account
	if step.Recipient != "" {
		recipient = sim.accounts[step.Recipient]
	}

	switch step.Op {
	case config.OpAdd:
		kind, err := binamm.ParseKind(step.Kind)
		if err != nil {
			return err
		}
		amounts, err := parseAmounts(step.Amounts)
		if err != nil {
			return err
		}
		res, err := sim.pool.AddLiquidity(account, recipient, 0, binamm.AddLiquidityParams{Kind: kind, Ticks: step.Ticks, Amounts: amounts})
		if err != nil {
			return err
		}
		sim.logger.Info("liquidity added", "account", step.Account, "bins", res.BinIDs, "amountA", res.AmountA.Dec(), "amountB", res.AmountB.Dec())

	case config.OpRemove:
		params := binamm.RemoveLiquidityParams{BinIDs: step.BinIDs}
		if step.Amount == config.AmountAll {
			for _, id := range step.BinIDs {
				params.Amounts = append(params.Amounts, sim.pool.BalanceOf(account, 0, id))
			}
		} else {
			amounts, err := parseAmounts(step.Amounts)
			if err != nil {
				return err
			}
			params.Amounts = amounts
		}
		res, err := sim.pool.RemoveLiquidity(account, recipient, 0, params)
		if err != nil {
			return err
		}
		sim.logger.Info("liquidity removed", "account", step.Account, "amountA", res.AmountA.Dec(), "amountB", res.AmountB.Dec())

	case config.OpMerge:
		return sim.pool.MergeBins(step.Bin, step.Target)

	case config.OpSetActiveTick:
		return sim.pool.SetActiveTick(step.Tick)

	case config.OpCreateStatic:
		ratios, err := parseAmounts(step.Ratios)
		if err != nil {
			return err
		}
		pos, err := sim.factory.CreateStatic(step.BinIDs, ratios)
		if err != nil {
			return err
		}
		sim.positions = append(sim.positions, pos)

	case config.OpCreateDynamic:
		pos, err := sim.factory.CreateDynamic(step.Bin)
		if err != nil {
			return err
		}
		sim.positions = append(sim.positions, pos)

	case config.OpDeposit:
		return sim.deposit(step, account)

	case config.OpMint:
		pos, err := sim.position(step.Position)
		if err != nil {
			return err
		}
		minted, err := pos.Mint(recipient)
		if err != nil {
			return err
		}
		sim.logger.Info("shares minted", "position", step.Position, "recipient", step.Recipient, "shares", minted.Dec())

	case config.OpBurn:
		pos, err := sim.position(step.Position)
		if err != nil {
			return err
		}
		amount := pos.BalanceOf(account)
		if step.Amount != config.AmountAll {
			if amount, err = parseAmount(step.Amount); err != nil {
				return err
			}
		}
		res, err := pos.Burn(account, recipient, amount)
		if err != nil {
			return err
		}
		sim.logger.Info("shares burned", "position", step.Position, "account", step.Account, "amountA", res.AmountA.Dec(), "amountB", res.AmountB.Dec())

	case config.OpSkim:
		pos, err := sim.position(step.Position)
		if err != nil {
			return err
		}
		if _, err := pos.Skim(recipient); err != nil {
			return err
		}

	case config.OpMigrate:
		pos, err := sim.position(step.Position)
		if err != nil {
			return err
		}
		return pos.MigrateBinLiquidityToRoot()

	case config.OpReport:
		return sim.report(step, account)
	}
	return nil
}

// deposit adds liquidity to every bin of a position at the position's ratios, so
// that step.Amount is what lands in the anchor bin.
func (sim *simulator) deposit(step config.StepConfig, account common.Address) error {
	pos, err := sim.position(step.Position)
	if err != nil {
		return err
	}
	anchor, err := parseAmount(step.Amount)
	if err != nil {
		return err
	}
	ratios := pos.Ratios()
	for i, id := range pos.BinIDs() {
		bin, err := sim.pool.GetBin(id)
		if err != nil {
			return err
		}
		// round up so every bin clears its ratio check
		lp, err := fixedpoint.Mul(anchor, ratios[i], fixedpoint.Ceil)
		if err != nil {
			return err
		}
		if _, err := sim.pool.AddLiquidity(account, pos.Address(), 0, binamm.AddLiquidityParams{
			Kind:    bin.Kind,
			Ticks:   []int32{bin.Tick},
			Amounts: []*uint256.Int{lp},
		}); err != nil {
			return &binamm.IndexError{Index: i, Err: err}
		}
	}
	return nil
}

func (sim *simulator) report(step config.StepConfig, account common.Address) error {
	sqrtPrice, liquidity, err := query.PoolSqrtPrice(sim.pool)
	if err != nil {
		return err
	}
	state := sim.pool.GetState()
	sim.logger.Info("pool",
		"activeTick", state.ActiveTick,
		"sqrtPrice", sqrtPrice.Dec(),
		"liquidity", liquidity.Dec(),
		"reserveA", state.ReserveA.Dec(),
		"reserveB", state.ReserveB.Dec(),
		"bins", state.LastBinID,
	)

	if len(step.BinIDs) > 0 {
		info, err := query.SubaccountPositionInformation(sim.pool, account, 0, step.BinIDs)
		if err != nil {
			return err
		}
		sim.logger.Info("account position", "account", step.Account, "amountA", info.AmountA.Dec(), "amountB", info.AmountB.Dec())
	}
	for i, pos := range sim.positions {
		sim.logger.Info("boosted position",
			"index", i,
			"address", pos.Address().Hex(),
			"variant", pos.Variant(),
			"bins", pos.BinIDs(),
			"supply", pos.TotalSupply().Dec(),
			"skimmable", pos.SkimmableAmount().Dec(),
		)
	}
	return nil
}

// reportChanges logs what the last step changed in the pool and checks that the
// diff replays the previous snapshot into the current one.
func (sim *simulator) reportChanges(index int, op string) error {
	prev, next := sim.snapshot, sim.pool.Snapshot()
	diff := binamm.Differ(prev, next)
	sim.snapshot = next
	if diff.IsEmpty() {
		sim.logger.Debug("step left pool unchanged", "step", index, "op", op)
		return nil
	}

	patched, err := binamm.Patcher(prev, diff)
	if err != nil {
		return fmt.Errorf("replay diff: %w", err)
	}
	if drift := binamm.Differ(patched, next); !drift.IsEmpty() {
		return fmt.Errorf("%w: %d tick and %d bin changes unaccounted for", errDiffDrift,
			len(drift.TickUpserts)+len(drift.TickDeletes), len(drift.BinAdditions)+len(drift.BinUpdates)+len(drift.BinDeletions))
	}

	sim.logger.Info("step applied",
		"step", index,
		"op", op,
		"tickUpserts", len(diff.TickUpserts),
		"tickDeletes", len(diff.TickDeletes),
		"binAdditions", len(diff.BinAdditions),
		"binUpdates", len(diff.BinUpdates),
	)
	return nil
}

func (sim *simulator) position(index int) (*boosted.Position, error) {
	if index < 0 || index >= len(sim.positions) {
		return nil, fmt.Errorf("position %d: %w", index, errUnknownPosition)
	}
	return sim.positions[index], nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}

func parseAmounts(in []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(in))
	for i, s := range in {
		v, err := parseAmount(s)
		if err != nil {
			return nil, &binamm.IndexError{Index: i, Err: err}
		}
		out[i] = v
	}
	return out, nil
}
