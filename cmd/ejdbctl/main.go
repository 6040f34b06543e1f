// Command ejdbctl inspects and edits ejdb databases from the shell.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "** %v\n", err)
		os.Exit(1)
	}
}
