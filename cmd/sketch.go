package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/vision"
)

var sketchCmd = &cobra.Command{
	Use:   "sketch <input> <output>",
	Short: "Render an edge sketch of one image",
	Long: `Run the recognition sketch pipeline on a single image file: grayscale,
blur, Canny edges and JPEG compression under the sketch byte budget.
The liveness check and face matching are not applied.`,
	Args: cobra.ExactArgs(2),
	RunE: runSketch,
}

func init() {
	rootCmd.AddCommand(sketchCmd)

	sketchCmd.Flags().Int("max-bytes", 0, "Byte budget for the sketch (defaults to the configured budget)")
}

func runSketch(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}
	img, format, err := imaging.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", in, err)
	}

	edges, err := vision.NewCannyEdges().Edges(img)
	if err != nil {
		return err
	}

	compressor := newCompressor(cfg.Sketch)
	if maxBytes := mustGetInt(cmd, "max-bytes"); maxBytes > 0 {
		compressor.MaxBytes = maxBytes
	}

	res, err := compressor.Compress(context.Background(), edges)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	fmt.Printf("Input:    %s (%s, %dx%d, %d bytes)\n", in, format, img.Bounds().Dx(), img.Bounds().Dy(), len(data))
	fmt.Printf("Sketch:   %s (%dx%d, %d bytes, budget %d)\n", out, res.Width, res.Height, len(res.Data), compressor.Budget())
	fmt.Printf("Quality:  %d\n", res.Quality)
	fmt.Printf("Scale:    %.3f\n", res.Scale)
	fmt.Printf("Attempts: %d\n", res.Attempts)
	return nil
}
