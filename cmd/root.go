package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "A face enrollment and recognition service with a liveness gate",
	Long: `Facegate enrolls people from a single photo and recognizes them in
captured frames. Frames must pass an eye-detection liveness check first, and
every recognition produces a small edge sketch of the frame.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides FACEGATE_CONFIG)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	if configFile != "" {
		os.Setenv("FACEGATE_CONFIG", configFile)
	}
}

// loadConfig loads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log)
	return cfg, nil
}
