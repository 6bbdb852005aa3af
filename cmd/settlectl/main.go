package main

import (
	"os"

	"github.com/xraph/settle/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
