// Command pgarman is an out-of-process backup and point-in-time-recovery
// manager for a PostgreSQL-style database cluster.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/willibrandon/pgarman"
	"github.com/willibrandon/pgarman/cmd/pgarman/commands"
)

// version is overwritten by the release build's -ldflags.
var version = "0.1"

func main() {
	if err := commands.Execute(version); err != nil {
		code := 1
		var kerr *pgarman.Error
		if errors.As(err, &kerr) {
			code = kerr.Kind.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "pgarman: %v\n", err)
		os.Exit(code)
	}
}
