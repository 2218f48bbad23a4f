package main

import (
	"os"

	"github.com/rustyeddy/flipper/cmd/flipper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
