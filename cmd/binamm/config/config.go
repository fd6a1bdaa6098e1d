package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Step operations understood by the simulator.
const (
	OpAdd           = "add"
	OpRemove        = "remove"
	OpMerge         = "merge"
	OpSetActiveTick = "set_active_tick"
	OpCreateStatic  = "create_static"
	OpCreateDynamic = "create_dynamic"
	OpDeposit       = "deposit"
	OpMint          = "mint"
	OpBurn          = "burn"
	OpSkim          = "skim"
	OpMigrate       = "migrate"
	OpReport        = "report"
)

// AmountAll in a remove or burn step stands for the account's whole balance.
const AmountAll = "all"

type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

type PoolConfig struct {
	TickSpacing uint32      `mapstructure:"tick_spacing"`
	ActiveTick  int32       `mapstructure:"active_tick"`
	TokenA      TokenConfig `mapstructure:"token_a"`
	TokenB      TokenConfig `mapstructure:"token_b"`
}

// AccountConfig names an address and the token-unit balances it starts with.
type AccountConfig struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	FundA   string `mapstructure:"fund_a"`
	FundB   string `mapstructure:"fund_b"`
}

// StepConfig is one scenario action. Which fields matter depends on Op; amounts
// are decimal strings so they can exceed 64 bits.
type StepConfig struct {
	Op        string   `mapstructure:"op"`
	Account   string   `mapstructure:"account"`
	Recipient string   `mapstructure:"recipient"`
	Kind      string   `mapstructure:"kind"`
	Tick      int32    `mapstructure:"tick"`
	Ticks     []int32  `mapstructure:"ticks"`
	Amount    string   `mapstructure:"amount"`
	Amounts   []string `mapstructure:"amounts"`
	Bin       uint32   `mapstructure:"bin"`
	Target    uint32   `mapstructure:"target"`
	BinIDs    []uint32 `mapstructure:"bin_ids"`
	Ratios    []string `mapstructure:"ratios"`
	Position  int      `mapstructure:"position"`
}

// Scenario is a pool, its funded accounts, and the steps to run against them.
type Scenario struct {
	LogLevel string          `mapstructure:"log_level"`
	Pool     PoolConfig      `mapstructure:"pool"`
	Accounts []AccountConfig `mapstructure:"accounts"`
	Steps    []StepConfig    `mapstructure:"steps"`
}

// Load merges the scenario file, BINAMM_ environment variables, and flags.
func Load(cfgFile string, flags *pflag.FlagSet) (*Scenario, error) {
	v := viper.New()
	v.SetEnvPrefix("BINAMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("pool.tick_spacing", uint32(10))
	v.SetDefault("pool.token_a.symbol", "A")
	v.SetDefault("pool.token_a.decimals", uint8(18))
	v.SetDefault("pool.token_b.symbol", "B")
	v.SetDefault("pool.token_b.decimals", uint8(18))

	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log_level", f); err != nil {
				return nil, fmt.Errorf("bind flags: %w", err)
			}
		}
	}

	if cfgFile == "" {
		return nil, errors.New("config: scenario file is required")
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Scenario
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Pool.TickSpacing == 0 {
		return errors.New("config: pool.tick_spacing must be positive")
	}
	if s.Pool.TokenA.Decimals > 18 || s.Pool.TokenB.Decimals > 18 {
		return errors.New("config: token decimals cannot exceed 18")
	}
	names := make(map[string]bool, len(s.Accounts))
	for i, a := range s.Accounts {
		if a.Name == "" {
			return fmt.Errorf("config: accounts[%d] has no name", i)
		}
		if names[a.Name] {
			return fmt.Errorf("config: account %q declared twice", a.Name)
		}
		names[a.Name] = true
	}
	for i, step := range s.Steps {
		switch step.Op {
		case OpAdd, OpRemove, OpMerge, OpSetActiveTick, OpCreateStatic, OpCreateDynamic,
			OpDeposit, OpMint, OpBurn, OpSkim, OpMigrate, OpReport:
		default:
			return fmt.Errorf("config: steps[%d]: unknown op %q", i, step.Op)
		}
		for _, name := range []string{step.Account, step.Recipient} {
			if name != "" && !names[name] {
				return fmt.Errorf("config: steps[%d]: unknown account %q", i, name)
			}
		}
	}
	return nil
}
