package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"jobx-market/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
