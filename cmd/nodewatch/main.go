// The main package for the nodewatch executable.
package main

import (
	"github.com/nodewatch/nodewatch/cmd"
)

func main() {
	cmd.Execute()
}
