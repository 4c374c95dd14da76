package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var budgetFlags struct {
	asJSON bool
	limit  int
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect the spend ledger and throttle state",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's and this month's spend against the limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Governor.ShouldThrottle(cmd.Context())
		if err != nil {
			return err
		}
		if budgetFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(st)
		}

		fmt.Printf("today:  %.2f / %.2f USD (%.0f%%)\n", st.DayCost, st.DailyLimit, st.PercentageUsed)
		fmt.Printf("month:  %.2f / %.2f USD\n", st.MonthCost, st.MonthlyLimit)
		fmt.Printf("remaining today: %.2f USD\n", st.RemainingBudget)
		if st.Throttle {
			fmt.Printf("THROTTLED: %s\n", st.Reason)
		}
		return nil
	},
}

var budgetEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent throttle audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		events, err := env.Store.ListBudgetEvents(cmd.Context(), budgetFlags.limit)
		if err != nil {
			return err
		}
		if budgetFlags.asJSON {
			return json.NewEncoder(os.Stdout).Encode(events)
		}
		for _, ev := range events {
			fmt.Printf("%s  %-8s  day=%.2f  month=%.2f  %s\n",
				ev.CreatedAt.Format("2006-01-02 15:04"), ev.Kind, ev.DayCost, ev.MonthCost, ev.Reason)
		}
		return nil
	},
}

func init() {
	budgetCmd.PersistentFlags().BoolVar(&budgetFlags.asJSON, "json", false, "emit JSON")
	budgetEventsCmd.Flags().IntVar(&budgetFlags.limit, "limit", 50, "max events")
	budgetCmd.AddCommand(budgetStatusCmd, budgetEventsCmd)
	rootCmd.AddCommand(budgetCmd)
}
