package main

import (
	"fmt"
	"os"

	"github.com/hearbird/hearbird/cmd"
	"github.com/hearbird/hearbird/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=... -X main.commit=..."
var (
	version   string
	buildDate string
	commit    string
)

func main() {
	build := buildinfo.NewContext(version, buildDate, commit)

	rootCmd, err := cmd.RootCommand(build)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
