// The main package for the preprint-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/preprint-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
