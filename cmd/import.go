package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/workflow"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Bulk-enroll identities from a directory of photos",
	Long: `Enroll every .jpg, .jpeg and .png file in a directory, naming each identity
after the file name without its extension. Files run through the same
enrollment checks as the web form: faces already registered are skipped.

Examples:
  facegate import ./people
  facegate import ./people --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("dry-run", false, "List what would be imported without enrolling")
}

// importSummary counts enrollment outcomes by category.
type importSummary struct {
	enrolled   int
	duplicates int
	noFace     int
	failed     map[string]error
}

func (s *importSummary) add(file string, err error) {
	switch {
	case err == nil:
		s.enrolled++
	case errors.Is(err, workflow.ErrDuplicateIdentity), errors.Is(err, database.ErrNameTaken):
		s.duplicates++
	case errors.Is(err, workflow.ErrNoFaceDetected):
		s.noFace++
	default:
		s.failed[file] = err
	}
}

// importCandidates returns the image files of dir, sorted by name.
func importCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// identityNameFromFile derives the identity name from the file stem.
func identityNameFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	dryRun := mustGetBool(cmd, "dry-run")

	files, err := importCandidates(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Printf("No images found in %s\n", dir)
		return nil
	}

	if dryRun {
		fmt.Printf("Would import %d images:\n", len(files))
		for _, f := range files {
			fmt.Printf("  %-40s -> %s\n", filepath.Base(f), facematch.SanitizeName(identityNameFromFile(f)))
		}
		return nil
	}

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

	if err := st.registry.Reload(ctx); err != nil {
		return describeBootstrapError(cfg, err)
	}
	svc := st.enrollmentService()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Importing faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	summary := &importSummary{failed: make(map[string]error)}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err == nil {
			_, err = svc.Enroll(ctx, workflow.EnrollRequest{Name: identityNameFromFile(f), Image: data})
		}
		summary.add(filepath.Base(f), err)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()

	fmt.Printf("Enrolled:   %d\n", summary.enrolled)
	fmt.Printf("Duplicates: %d\n", summary.duplicates)
	fmt.Printf("No face:    %d\n", summary.noFace)
	if len(summary.failed) > 0 {
		fmt.Printf("Failed:     %d\n", len(summary.failed))
		names := make([]string, 0, len(summary.failed))
		for name := range summary.failed {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Printf("  %-40s %v\n", name, summary.failed[name])
		}
	}
	fmt.Printf("Registry now holds %d identities\n", st.registry.Len())
	return nil
}
