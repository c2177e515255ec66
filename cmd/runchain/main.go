package main

import (
	"os"

	"github.com/runchain/runchain/internal/interface/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
