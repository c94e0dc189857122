package main

import (
	"os"

	"github.com/latgalenlp/saskana/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
