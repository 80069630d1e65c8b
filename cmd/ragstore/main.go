// Command ragstore is the entry point for the ragstore knowledge store. It
// ingests local documents and ticket exports into a vector store, answers
// questions over them, and serves the same operations over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragstore-go/cmd/ragstore/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
