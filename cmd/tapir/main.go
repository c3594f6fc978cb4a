// Command tapir inspects document stores written by a tapir document manager.
//
// Usage: tapir [--config file] [--store dir] <command>
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
