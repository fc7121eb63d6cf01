// The main package for the fleetpoller executable.
package main

import (
	"fmt"
	"os"

	"github.com/dropsignal/fleetpoller/cmd"
)

// main is the entry point of the application. It defers all execution to the
// Cobra CLI.
func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetpoller: %v\n", err)
		os.Exit(1)
	}
}
