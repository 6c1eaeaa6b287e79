package main

import (
	"os"

	"github.com/sgic-platform/sgic-audit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
