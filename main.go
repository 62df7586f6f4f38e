// The main package for the redarc executable.
package main

import (
	"github.com/redarc/redarc/cmd"
)

func main() {
	cmd.Execute()
}
