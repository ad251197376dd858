package main

import (
	"os"

	"github.com/utakatik/utakatik/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
