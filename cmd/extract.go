package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eatplanted/venuescout/internal/model"
)

var extractFlags struct {
	countries []string
	platforms []string
	target    string
	venueID   string
	chainID   string
	maxVenues int
	dryRun    bool
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract menus from staged or explicitly named venues",
	Long:  "Fetches venue pages, parses their menus, matches planted products and stages dishes for review. Without --url or --venue-id it works through the staged venues from discovery.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Tracker.Create(ctx, model.RunKindExtraction, model.RunConfig{
			Countries: extractFlags.countries,
			Platforms: extractFlags.platforms,
			Target:    extractFlags.target,
			VenueID:   extractFlags.venueID,
			ChainID:   extractFlags.chainID,
			MaxVenues: extractFlags.maxVenues,
			DryRun:    extractFlags.dryRun,
		})
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			_ = env.Tracker.Cancel(cmd.Context(), run.ID)
		}()

		if err := env.Extraction.Execute(ctx, run.ID); err != nil {
			return err
		}

		final, err := env.Tracker.Get(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		printRun(final)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringSliceVar(&extractFlags.countries, "country", nil, "ISO country codes")
	extractCmd.Flags().StringSliceVar(&extractFlags.platforms, "platform", []string{"wolt", "ubereats"}, "platforms in scope")
	extractCmd.Flags().StringVar(&extractFlags.target, "url", "", "extract a single venue page URL")
	extractCmd.Flags().StringVar(&extractFlags.venueID, "venue-id", "", "extract one platform venue id (needs exactly one --platform)")
	extractCmd.Flags().StringVar(&extractFlags.chainID, "chain-id", "", "extract the staged venues of one chain entity")
	extractCmd.Flags().IntVar(&extractFlags.maxVenues, "max-venues", 0, "venue cap for this run (default from config)")
	extractCmd.Flags().BoolVar(&extractFlags.dryRun, "dry-run", false, "plan the targets without fetching")
	rootCmd.AddCommand(extractCmd)
}
