// Command saccgen compiles per-pair power spectra and covariance blocks
// into consolidated sacc containers.
//
// Usage:
//
//	saccgen --globals globals.yaml --data
//	saccgen --globals globals.yaml --sims
//	saccgen --globals globals.yaml --data --verbose
//
// With --data the real measurement is compiled into a single container;
// with --sims one container per simulation realization is written, all
// sharing the same covariance matrix.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-powspec/compile"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "saccgen:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		globals string
		data    bool
		sims    bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:           "saccgen",
		Short:         "Compile power spectra and covariances into sacc containers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if data == sims {
				return errors.New("exactly one of --data and --sims is required")
			}
			mode := compile.ModeData
			if sims {
				mode = compile.ModeSims
			}

			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := compile.LoadConfig(globals)
			if err != nil {
				return err
			}
			c, err := compile.New(cfg, log)
			if err != nil {
				return err
			}
			return c.Run(cmd.Context(), mode)
		},
	}

	cmd.Flags().StringVar(&globals, "globals", "", "path to the YAML globals file")
	cmd.Flags().BoolVar(&data, "data", false, "compile the real-data measurement")
	cmd.Flags().BoolVar(&sims, "sims", false, "compile the simulation ensemble")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging")
	cmd.MarkFlagRequired("globals")
	cmd.MarkFlagsMutuallyExclusive("data", "sims")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
