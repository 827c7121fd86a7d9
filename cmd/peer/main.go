package main

import "github.com/ziadteama/P2P-FIle-Sharing/internal/cli"

func main() {
	cli.Execute()
}
