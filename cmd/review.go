package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/store"
)

var reviewFlags struct {
	status   string
	kind     string
	platform string
	runID    string
	limit    int
	asJSON   bool

	result   string
	reviewer string
	notes    string
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the staged entity review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staged entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entities, err := env.Store.ListEntities(cmd.Context(), store.EntityFilter{
			Status:   model.EntityStatus(reviewFlags.status),
			Kind:     model.EntityKind(reviewFlags.kind),
			Platform: reviewFlags.platform,
			RunID:    reviewFlags.runID,
			Limit:    reviewFlags.limit,
		})
		if err != nil {
			return err
		}
		if reviewFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(entities)
		}
		for _, e := range entities {
			fmt.Printf("%s  %-5s  %-12s  conf=%-3d  %-9s  %s\n",
				e.ID, e.Kind, e.Status, e.ConfidenceScore, e.Platform, e.Name)
		}
		return nil
	},
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <entity-id>",
	Short: "Record a review verdict for one entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Feedback.Submit(cmd.Context(), &model.FeedbackRecord{
			EntityID: args[0],
			Result:   model.FeedbackResult(reviewFlags.result),
			Reviewer: reviewFlags.reviewer,
			Notes:    reviewFlags.notes,
		})
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show log-derived pipeline and strategy performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pipelineRate, samples, err := env.Feedback.PipelineRate(cmd.Context())
		if err != nil {
			return err
		}
		rates, err := env.Feedback.StrategyRates(cmd.Context())
		if err != nil {
			return err
		}

		if reviewFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"pipeline_rate": pipelineRate,
				"samples":       samples,
				"strategies":    rates,
			})
		}

		fmt.Printf("pipeline: %d%% correct over %d reviews\n", pipelineRate, samples)
		for id, p := range rates {
			flag := ""
			if p.Problematic {
				flag = "  PROBLEMATIC"
			}
			fmt.Printf("%s  rate=%d%%  reviews=%d  errors=%d%s\n",
				id, p.SuccessRate, p.Total, p.Errors, flag)
		}
		return nil
	},
}

func init() {
	reviewCmd.PersistentFlags().BoolVar(&reviewFlags.asJSON, "json", false, "emit JSON")
	reviewListCmd.Flags().StringVar(&reviewFlags.status, "status", "", "filter by status")
	reviewListCmd.Flags().StringVar(&reviewFlags.kind, "kind", "", "filter by kind (venue, dish)")
	reviewListCmd.Flags().StringVar(&reviewFlags.platform, "platform", "", "filter by platform")
	reviewListCmd.Flags().StringVar(&reviewFlags.runID, "run", "", "filter by run id")
	reviewListCmd.Flags().IntVar(&reviewFlags.limit, "limit", 50, "max results")
	reviewSubmitCmd.Flags().StringVar(&reviewFlags.result, "result", "", "verdict: correct, wrong_product, wrong_price, wrong_name, not_planted, not_found, error")
	reviewSubmitCmd.Flags().StringVar(&reviewFlags.reviewer, "reviewer", "", "reviewer name")
	reviewSubmitCmd.Flags().StringVar(&reviewFlags.notes, "notes", "", "free-form notes")
	_ = reviewSubmitCmd.MarkFlagRequired("result")
	_ = reviewSubmitCmd.MarkFlagRequired("reviewer")
	reviewCmd.AddCommand(reviewListCmd, reviewSubmitCmd, reviewStatsCmd)
	rootCmd.AddCommand(reviewCmd)
}
