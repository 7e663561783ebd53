package main

import (
	"os"

	"github.com/convoforge/perfgen/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
