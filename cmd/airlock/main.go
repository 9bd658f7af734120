// Airlock is a relay and authority server for the Among Us Hazel protocol.
//
// It admits clients across compatible game versions, relays game traffic
// between them, and checks every RPC a client sends before it is applied or
// forwarded. An admin REST API, MQTT telemetry and an interactive console
// sit alongside the game listener.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/airlock-project/airlock/internal/config"
)

const banner = `
     _    _      _            _
    / \  (_)_ __| | ___   ___| | __
   / _ \ | | '__| |/ _ \ / __| |/ /
  / ___ \| | |  | | (_) | (__|   <
 /_/   \_\_|_|  |_|\___/ \___|_|\_\  v%s
 Among Us relay & authority server
`

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "airlock",
		Short: "Among Us relay and authority server",
		Long: `Airlock relays Among Us games over the Hazel protocol.

It lets clients of compatible game versions play together, keeps the
server-side view of every player's position, and refuses RPCs a client
is not allowed to send.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.DefaultConfigDir+"/"+config.DefaultConfigFile, "path to the configuration file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		setupCmd(&configPath),
		versionsCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
