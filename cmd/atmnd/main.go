// Command atmnd runs a full node: it validates blocks and transactions,
// serves the query surface, and optionally mines.
//
// Usage:
//
//	atmnd                    Run node using defaults / config file / flags
//	atmnd --mine             Run node with block production enabled
//	atmnd --help             Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting node: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
