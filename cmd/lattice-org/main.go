package main

import (
	"os"

	"github.com/kingrea/lattice-org/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
