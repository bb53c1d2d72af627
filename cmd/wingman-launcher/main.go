// Package main is the entrypoint for the Wingman crash-resilient launcher.
package main

import "github.com/wingman-run/wingman/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.ExecuteLauncher(version)
}
