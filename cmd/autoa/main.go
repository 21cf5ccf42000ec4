package main

import (
	"fmt"
	"os"

	"github.com/Craig-0219/potato-autoA/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
