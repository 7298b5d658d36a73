package main

import (
	"os"

	"tfmr/internal/tfmrctl"
	"tfmr/internal/tfmrd"
)

// Version is injected by build scripts via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	args := os.Args[1:]
	if shouldRouteToCtl(args) {
		os.Exit(tfmrctl.Run(args))
	}
	os.Exit(tfmrd.Run(args))
}

// one-shot flags route to the CLI; anything else starts the daemon
func shouldRouteToCtl(args []string) bool {
	for _, a := range args {
		switch a {
		case "-scan", "--scan", "-backtest", "--backtest":
			return true
		}
	}
	return false
}
