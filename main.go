// The main package for the hnwatch executable.
package main

import (
	"github.com/hnwatch/hnwatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
