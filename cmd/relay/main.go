package main

import (
	"os"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/cli"
)

func main() {
	if err := cli.NewRelayCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
