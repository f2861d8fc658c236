package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every enrolled identity has a detectable face",
	Long: `Extract a descriptor from every canonical image in the known faces store
and report each image that fails. Unlike serve, which stops at the first
broken entry, verify lists all of them. Exits non-zero if any entry is broken.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	st, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	total, err := st.registry.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting identities: %w", err)
	}
	if total == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Verifying identities"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	failures, err := st.registry.Verify(ctx, func(name string, err error) {
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	if len(failures) == 0 {
		fmt.Printf("All %d identities OK\n", total)
		return nil
	}

	fmt.Printf("%d of %d identities are broken:\n", len(failures), total)
	for _, f := range failures {
		fmt.Printf("  %-30s %v\n", f.Name, f.Err)
	}
	return errors.New("registry verification failed")
}
