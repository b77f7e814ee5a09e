package main

import (
	"os"

	"github.com/wangue52/diploma-secure/cmd/diplomasecure/cli"
	"github.com/wangue52/diploma-secure/internal/ui"
)

func main() {
	if err := cli.Execute(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}
