package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wingman-run/wingman/internal/config"
	"github.com/wingman-run/wingman/internal/launcher"
)

func init() {
	launcherCmd.Flags().IntVar(&launcherPort, "port", 6567, "inference child port")
	launcherCmd.Flags().IntVar(&launcherWebsocketPort, "websocket-port", 6568, "control API port (must be port+1)")
	launcherCmd.Flags().IntVar(&launcherGPULayers, "gpu-layers", -1, "default GPU layer count (-1 = auto)")
}

var (
	launcherPort          int
	launcherWebsocketPort int
	launcherGPULayers     int
)

var launcherCmd = &cobra.Command{
	Use:   "wingman-launcher",
	Short: "Run the crash-resilient Wingman launcher",
	Long: `wingman-launcher starts and restarts the wingman-control binary,
reconciling inference state after a non-model-loading crash (§4.7).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLauncher,
}

func runLauncher(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("websocket-port") && launcherWebsocketPort != launcherPort+1 {
		fmt.Fprintf(os.Stderr, "wingman-launcher: --websocket-port must equal port+1 (%d); ignoring\n", launcherPort+1)
	}

	l, err := launcher.New(launcher.Options{
		WingmanHome: config.WingmanHome(),
		Host:        "127.0.0.1",
		Port:        launcherPort,
		GPULayers:   launcherGPULayers,
	})
	if err != nil {
		return fmt.Errorf("construct launcher: %w", err)
	}

	l.Run(context.Background())
	return nil
}

// ExecuteLauncher runs the wingman-launcher root command. Called from main.go.
func ExecuteLauncher(version string) {
	launcherCmd.Version = version

	if err := launcherCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
