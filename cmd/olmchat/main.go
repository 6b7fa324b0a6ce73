package main

import (
	"os"

	"github.com/harun/olmchat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
