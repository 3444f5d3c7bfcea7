package main

import (
	"os"

	"github.com/gpac-go/fgraph/cmd/fgraphctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
