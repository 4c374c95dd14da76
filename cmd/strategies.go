package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var strategiesFlags struct {
	platform string
	country  string
	asJSON   bool
	parent   string
	tags     []string
	reason   string
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Manage search query strategies",
}

var strategiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active strategies by reliability tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		tiers, err := env.Strategies.GetStrategyTiers(cmd.Context(), strategiesFlags.platform, strategiesFlags.country)
		if err != nil {
			return err
		}
		if strategiesFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(tiers)
		}

		fmt.Printf("high (%d):\n", len(tiers.High))
		for _, s := range tiers.High {
			fmt.Printf("  %s  rate=%d%%  uses=%d  %q\n", s.ID, s.SuccessRate, s.TotalUses, s.QueryTemplate)
		}
		fmt.Printf("medium (%d):\n", len(tiers.Medium))
		for _, s := range tiers.Medium {
			fmt.Printf("  %s  rate=%d%%  uses=%d  %q\n", s.ID, s.SuccessRate, s.TotalUses, s.QueryTemplate)
		}
		fmt.Printf("low (%d):\n", len(tiers.Low))
		for _, s := range tiers.Low {
			fmt.Printf("  %s  rate=%d%%  uses=%d  %q\n", s.ID, s.SuccessRate, s.TotalUses, s.QueryTemplate)
		}
		fmt.Printf("untested (%d):\n", len(tiers.Untested))
		for _, s := range tiers.Untested {
			fmt.Printf("  %s  uses=%d  %q\n", s.ID, s.TotalUses, s.QueryTemplate)
		}
		return nil
	},
}

var strategiesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the starter strategies for a platform and country",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Strategies.EnsureSeeds(cmd.Context(), strategiesFlags.platform, strategiesFlags.country)
	},
}

var strategiesEvolveCmd = &cobra.Command{
	Use:   "evolve <template>",
	Short: "Derive a new strategy from a parent template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		child, err := env.Strategies.CreateEvolved(cmd.Context(), strategiesFlags.parent, args[0], strategiesFlags.tags)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (parent %s, prior rate %d%%)\n", child.ID, child.ParentStrategyID, child.SuccessRate)
		return nil
	},
}

var strategiesDeprecateCmd = &cobra.Command{
	Use:   "deprecate <strategy-id>",
	Short: "Permanently remove a strategy from selection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Strategies.Deprecate(cmd.Context(), args[0], strategiesFlags.reason)
	},
}

var strategiesApplyFeedbackCmd = &cobra.Command{
	Use:   "apply-feedback",
	Short: "Recompute strategy rates from the feedback log",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Feedback.ApplyToStrategies(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("strategy rates recomputed from feedback", zap.Int("updated", n))
		fmt.Printf("updated %d strategies\n", n)
		return nil
	},
}

func init() {
	strategiesCmd.PersistentFlags().StringVar(&strategiesFlags.platform, "platform", "", "platform scope")
	strategiesCmd.PersistentFlags().StringVar(&strategiesFlags.country, "country", "", "country scope")
	strategiesCmd.PersistentFlags().BoolVar(&strategiesFlags.asJSON, "json", false, "emit JSON")
	strategiesEvolveCmd.Flags().StringVar(&strategiesFlags.parent, "parent", "", "parent strategy id")
	strategiesEvolveCmd.Flags().StringSliceVar(&strategiesFlags.tags, "tag", nil, "tags for the new strategy")
	_ = strategiesEvolveCmd.MarkFlagRequired("parent")
	strategiesDeprecateCmd.Flags().StringVar(&strategiesFlags.reason, "reason", "", "deprecation reason")
	strategiesCmd.AddCommand(strategiesListCmd, strategiesSeedCmd, strategiesEvolveCmd, strategiesDeprecateCmd, strategiesApplyFeedbackCmd)
	rootCmd.AddCommand(strategiesCmd)
}
