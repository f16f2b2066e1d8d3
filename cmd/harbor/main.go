// Package main is the entry point for the harbor CLI.
package main

import (
	"os"

	"github.com/willibrandon/harbor/cmd/harbor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
