package main

import (
	"os"

	"github.com/raa-org/sevpn/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
