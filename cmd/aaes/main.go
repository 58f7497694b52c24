package main

import (
	"os"

	"github.com/satindergrewal/aaes/cmd/aaes/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
