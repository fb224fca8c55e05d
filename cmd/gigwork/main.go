package main

import (
	"os"

	"github.com/gigwork-dev/gigwork/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
