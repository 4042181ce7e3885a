package main

import (
	"os"

	"github.com/gmbyapa/kenrich/cmd/kenrich/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
