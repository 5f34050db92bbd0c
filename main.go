package main

import (
	"fmt"
	"os"

	"hra-insights/cli"
)

func main() {
	cli.SetVersion(GetVersionInfo())
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
