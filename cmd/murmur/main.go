package main

import (
	"os"

	"github.com/layer-3/murmur/cmd/murmur/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
