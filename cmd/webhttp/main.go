// Command webhttp serves sqlite tables as web operations and inspects
// dispatch and query translation.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/c29m/webhttp/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
