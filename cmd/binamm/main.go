package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/defistate/binamm-go/cmd/binamm/config"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/fixedpoint"
	"github.com/defistate/binamm-go/protocols/binamm/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "binamm",
		Short:        "Bin AMM pricing engine tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Print the sqrt price bounds of a range of ticks",
		RunE:  runTick,
	}
	tickCmd.Flags().Uint32("spacing", 10, "tick spacing")
	tickCmd.Flags().Int32("from", -5, "first tick (inclusive)")
	tickCmd.Flags().Int32("to", 5, "last tick (inclusive)")
	root.AddCommand(tickCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a pool and boosted position scenario",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().String("config", "", "scenario file path (required, see cmd/binamm/scenario.yaml)")
	root.AddCommand(simulateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

func runTick(cmd *cobra.Command, _ []string) error {
	spacing, _ := cmd.Flags().GetUint32("spacing")
	from, _ := cmd.Flags().GetInt32("from")
	to, _ := cmd.Flags().GetInt32("to")
	if from > to {
		return fmt.Errorf("--from %d is above --to %d", from, to)
	}
	return printTicks(cmd.OutOrStdout(), spacing, from, to)
}

func printTicks(out io.Writer, spacing uint32, from, to int32) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICK\tSQRT_LOWER\tSQRT_UPPER\tPRICE_LOWER")
	for tick := from; tick <= to; tick++ {
		lower, upper, err := tickmath.TickSqrtPrices(spacing, tick)
		if err != nil {
			return err
		}
		price, err := fixedpoint.Mul(lower, lower, fixedpoint.Floor)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", tick, lower.Dec(), upper.Dec(), decimal18(price))
	}
	return w.Flush()
}

// decimal18 renders an 18-decimal fixed point value.
func decimal18(x *uint256.Int) string {
	whole, frac := new(uint256.Int).DivMod(x, fixedpoint.One, new(uint256.Int))
	return fmt.Sprintf("%s.%018d", whole.Dec(), frac.Uint64())
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	scenario, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := newLogger(cmd.OutOrStdout(), scenario.LogLevel)
	sim, err := newSimulator(scenario, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("Failed to initialize simulator", "error", err)
		return err
	}
	if err := sim.run(scenario.Steps); err != nil {
		logger.Error("Scenario failed", "error", err)
		return err
	}
	logger.Info("Scenario complete", "steps", len(scenario.Steps), "positions", len(sim.positions))
	return nil
}
