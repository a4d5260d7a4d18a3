// netpush pushes configuration commands to network devices from the command line.
package main

import (
	"os"

	"github.com/acolita/netpush-mcp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
