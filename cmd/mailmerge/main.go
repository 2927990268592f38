/*
Package main provides the CLI entry point for mailmerge.
*/
package main

import (
	"os"

	"github.com/shineum/mailmerge-lite/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
