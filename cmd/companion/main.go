// Command companion runs the desktop feedback server and its tooling.
//
// Usage:
//
//	export COMPANION_API_KEY="$(companion keygen)"
//	companion serve --config companion.toml
//
// Commands:
//
//	serve  - Run the HTTP API
//	keygen - Print a new random API key
//	check  - Validate configuration and data files
//	watch  - Follow live feedback from a running server
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
