package main

import (
	"fmt"
	"os"

	"SwapPilot/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "swapctl: %v\n", err)
		os.Exit(1)
	}
}
