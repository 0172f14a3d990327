package main

import (
	"os"

	"github.com/memberhq/contentsync/internal/cmd"
)

func main() {
	if err := cmd.RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
