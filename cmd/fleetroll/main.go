// fleetroll — a rolling deploy orchestrator: resolves a fleet, orders hosts
// to minimize correlated blast radius, and rolls a command sequence out
// under a parallelism budget with operator pause points along the way.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
