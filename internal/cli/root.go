// Package cli implements the p2p-share command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   `p2p-share`,
	Short: `share files directly between peers`,
	Long: `p2p-share sends a file straight to another peer over a WebRTC data channel.
A small relay server is only used to exchange connection setup signals.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(historyCmd)
}
