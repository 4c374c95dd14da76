package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/store"
)

var cleanupFlags struct {
	staleAfter time.Duration
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired query cache entries and reap stale runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.CleanupExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired cache entries\n", n)

		// A crashed worker leaves its run stuck in running. Fail it so the
		// record reaches a terminal state; recorded partial progress stays.
		running, err := env.Tracker.List(cmd.Context(), store.RunFilter{Status: model.RunStatusRunning})
		if err != nil {
			return err
		}
		cutoff := time.Now().UTC().Add(-cleanupFlags.staleAfter)
		reaped := 0
		for _, r := range running {
			if r.UpdatedAt.After(cutoff) {
				continue
			}
			if err := env.Tracker.Fail(cmd.Context(), r.ID, "stale run reaped by cleanup"); err != nil {
				return err
			}
			reaped++
		}
		fmt.Printf("failed %d stale runs\n", reaped)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupFlags.staleAfter, "stale-after", 2*time.Hour,
		"fail running runs that have not progressed for this long")
	rootCmd.AddCommand(cleanupCmd)
}
