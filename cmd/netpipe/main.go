// Command netpipe runs an echo server or an interactive client on top of
// the netpipe pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/czx-lab/netpipe"
)

func main() {
	var configFile string
	rootCmd := &cobra.Command{
		Use:           "netpipe",
		Short:         "Event-driven connection pipeline demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "config file (yaml or json)")

	rootCmd.AddCommand(
		serveCmd(&configFile),
		connectCmd(&configFile),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "netpipe: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "netpipe", netpipe.Version())
		},
	}
}
