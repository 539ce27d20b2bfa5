package main

import (
	"fmt"
	"os"

	"github.com/postforge-ai/postforge/client/internal/cmd"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := cmd.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
