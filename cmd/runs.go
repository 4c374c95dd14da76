package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/store"
)

var runsFlags struct {
	status string
	kind   string
	limit  int
	asJSON bool
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Tracker.List(cmd.Context(), store.RunFilter{
			Status: model.RunStatus(runsFlags.status),
			Kind:   model.RunKind(runsFlags.kind),
			Limit:  runsFlags.limit,
		})
		if err != nil {
			return err
		}

		if runsFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(list)
		}
		for _, r := range list {
			fmt.Printf("%s  %-10s  %-9s  created=%s  errors=%d\n",
				r.ID, r.Kind, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), len(r.Errors))
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with stats and errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Tracker.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if runsFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(run)
		}
		printRun(run)
		return nil
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cancellation of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Tracker.Cancel(cmd.Context(), args[0])
	},
}

func init() {
	runsCmd.PersistentFlags().BoolVar(&runsFlags.asJSON, "json", false, "emit JSON")
	runsListCmd.Flags().StringVar(&runsFlags.status, "status", "", "filter by status")
	runsListCmd.Flags().StringVar(&runsFlags.kind, "kind", "", "filter by kind")
	runsListCmd.Flags().IntVar(&runsFlags.limit, "limit", 20, "max results")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsCancelCmd)
	rootCmd.AddCommand(runsCmd)
}
