// The main package for the lifelog executable.
package main

import (
	"github.com/kestrelworks/lifelog/cmd"
)

// main defers all execution to the Cobra CLI layer.
func main() {
	cmd.Execute()
}
