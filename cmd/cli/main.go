package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vk/rascheck/internal/cli"
)

// main is the entrypoint for the rascheck application.
func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the command execution for easier testing.
func run(outW io.Writer, args []string) error {
	root := cli.NewRootCommand(outW)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}
