// Package main is the entry point for the Tradernet identity admin CLI.
// It manages users, roles and groups directly against the configured database.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	_ = godotenv.Load() // load .env if present

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
