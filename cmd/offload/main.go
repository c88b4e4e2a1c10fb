package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/offloadhq/offload/cmd/offload/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var exitErr *cmd.ExitCodeError
		if errors.As(err, &exitErr) {
			// The remote command's exit code is the success/failure
			// channel; the JSON result already went to stdout.
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
