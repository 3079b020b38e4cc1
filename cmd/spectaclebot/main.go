// Package main is the entry point for spectaclebot.
package main

import (
	"os"

	"github.com/SpectacleRBX/SpectacleBot/cmd/spectaclebot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
