package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
)

var discoverFlags struct {
	countries  []string
	platforms  []string
	maxQueries int
	chainDepth int
	dryRun     bool
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run venue discovery for the given countries and platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Tracker.Create(ctx, model.RunKindDiscovery, model.RunConfig{
			Countries:     discoverFlags.countries,
			Platforms:     discoverFlags.platforms,
			MaxQueries:    discoverFlags.maxQueries,
			MaxChainDepth: discoverFlags.chainDepth,
			DryRun:        discoverFlags.dryRun,
		})
		if err != nil {
			return err
		}

		// Cancel the run record too when the process is interrupted.
		go func() {
			<-ctx.Done()
			_ = env.Tracker.Cancel(cmd.Context(), run.ID)
		}()

		if err := env.Discovery.Execute(ctx, run.ID); err != nil {
			return err
		}

		final, err := env.Tracker.Get(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		zap.L().Info("discovery finished",
			zap.String("run_id", final.ID),
			zap.String("status", string(final.Status)),
		)
		printRun(final)
		return nil
	},
}

// printRun writes a short human-readable run summary to stdout.
func printRun(run *model.ScraperRun) {
	fmt.Printf("run %s  kind=%s  status=%s\n", run.ID, run.Kind, run.Status)
	for k, v := range run.Stats {
		fmt.Printf("  %-20s %d\n", k, v)
	}
	for _, e := range run.Errors {
		fmt.Printf("  error: %s (%s)\n", e.Message, e.Target)
	}
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverFlags.countries, "country", nil, "ISO country codes to cover (repeatable)")
	discoverCmd.Flags().StringSliceVar(&discoverFlags.platforms, "platform", []string{"wolt", "ubereats"}, "platforms to search")
	discoverCmd.Flags().IntVar(&discoverFlags.maxQueries, "max-queries", 0, "query cap for this run (default from config)")
	discoverCmd.Flags().IntVar(&discoverFlags.chainDepth, "chain-depth", 0, "chain follow-up depth (default from config)")
	discoverCmd.Flags().BoolVar(&discoverFlags.dryRun, "dry-run", false, "plan the queries without executing them")
	_ = discoverCmd.MarkFlagRequired("country")
	rootCmd.AddCommand(discoverCmd)
}
