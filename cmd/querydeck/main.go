// Package main is the querydeck command.
package main

import (
	"os"

	"github.com/leapstack-labs/querydeck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
