package main

import (
	"fmt"
	"os"

	"github.com/thruflo/knitron/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "knitron: %v\n", err)
		os.Exit(1)
	}
}
