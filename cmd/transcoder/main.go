// Package main is the entry point for the transcoder job server.
package main

import (
	"os"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/cmd/transcoder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
