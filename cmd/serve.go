package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/mqttrpc"
	"github.com/kozaktomas/facegate/internal/sketch"
	"github.com/kozaktomas/facegate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Facegate web server.
The registry is loaded from the known faces store before the server accepts
requests; a canonical image without a detectable face aborts startup.
When MQTT_BROKER is set, enrollment and recognition are also served over MQTT.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8002, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// applyServeFlags lets explicit flags win over config and environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = mustGetString(cmd, "host")
	}
}

// startMQTT connects the MQTT RPC transport if a broker is configured.
func startMQTT(ctx context.Context, cfg *config.Config, svc mqttrpc.Service, reloader mqttrpc.Reloader) (*mqttrpc.Server, error) {
	if cfg.MQTT.Broker == "" {
		return nil, nil
	}
	fmt.Printf("Connecting to MQTT broker %s...\n", cfg.MQTT.Broker)
	srv := mqttrpc.New(svc, reloader, cfg.MQTT,
		mqttrpc.WithTimeout(cfg.Server.RequestTimeout),
		mqttrpc.WithLogger(slog.Default().With("component", "mqtt")),
	)
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	fmt.Printf("MQTT RPC listening on %s\n", srv.RequestTopic("+"))
	return srv, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, artifacts, sketchDir, err := st.service(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Loading face registry (%s backend)...\n", cfg.Registry.Backend)
	if err := st.registry.Reload(ctx); err != nil {
		return describeBootstrapError(cfg, err)
	}
	fmt.Printf("Face registry ready with %d identities\n", st.registry.Len())

	janitor := sketch.NewJanitor(artifacts, cfg.Sketch.PruneInterval, slog.Default().With("component", "janitor"))
	janitor.Start(ctx)
	defer janitor.Stop()

	mqttSrv, err := startMQTT(ctx, cfg, svc, st.registry)
	if err != nil {
		return err
	}
	if mqttSrv != nil {
		defer mqttSrv.Stop()
	}

	server := web.NewServer(cfg, web.Dependencies{
		Faces:        svc,
		Registry:     st.registry,
		Recognitions: st.recognitions,
		SketchDir:    sketchDir,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Facegate on http://%s\n", cfg.Server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
