// Command swanling is the reference CLI binary for the engine: it runs a
// small demonstration load test against a configured host using the
// public swanling package.
package main

import (
	"fmt"
	"os"

	"github.com/swanling/swanling/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
