package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sketches outside the retention policy",
	Long: `Apply the sketch retention policy (SKETCH_MAX_AGE and SKETCH_MAX_COUNT)
once to the configured sketch store. serve does this periodically.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	store, _, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	removed, err := store.Prune(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("pruning sketches: %w", err)
	}
	fmt.Printf("Removed %d sketches (max age %s, max count %d)\n", removed, cfg.Sketch.MaxAge, cfg.Sketch.MaxCount)
	return nil
}
