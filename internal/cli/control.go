// Package cli implements the Wingman command-line entrypoints using
// Cobra, one root command per binary, generalizing the teacher's
// internal/cli package (a single rootCmd with subcommands) into two
// single-purpose root commands: wingman-control and wingman-launcher.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wingman-run/wingman/internal/config"
	"github.com/wingman-run/wingman/internal/control"
)

func init() {
	controlCmd.Flags().IntVar(&controlPort, "port", 6567, "inference child port")
	controlCmd.Flags().IntVar(&controlWebsocketPort, "websocket-port", 6568, "control API/WebSocket port (must be port+1)")
	controlCmd.Flags().IntVar(&controlGPULayers, "gpu-layers", -1, "default GPU layer count (-1 = auto)")
}

var (
	controlPort          int
	controlWebsocketPort int
	controlGPULayers     int
	controlExitCode      int
)

var controlCmd = &cobra.Command{
	Use:   "wingman-control",
	Short: "Run the Wingman control plane",
	Long: `wingman-control runs the download service, inference supervisor,
telemetry bus, and control API as a single foreground process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runControl,
}

func runControl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.API.Port = controlPort
	}
	if cmd.Flags().Changed("websocket-port") && controlWebsocketPort != cfg.API.ControlPort() {
		fmt.Fprintf(os.Stderr, "wingman-control: --websocket-port must equal port+1 (%d); ignoring\n", cfg.API.ControlPort())
	}
	if cmd.Flags().Changed("gpu-layers") {
		cfg.Inference.GPULayers = controlGPULayers
	}

	c, err := control.New(cfg, config.WingmanHome())
	if err != nil {
		return fmt.Errorf("construct control plane: %w", err)
	}
	defer c.Close()

	controlExitCode = c.Serve(context.Background())
	return nil
}

// ExecuteControl runs the wingman-control root command. Called from main.go.
func ExecuteControl(version string) {
	controlCmd.Version = version

	if err := controlCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(controlExitCode)
}
