// The main package for the gazette-watch executable.
package main

import (
	"github.com/JakeFAU/gazette-watch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
