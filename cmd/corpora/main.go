// Package main is the entry point for the corpora CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/corpora/cmd/corpora/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
