package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"isomine/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			details := services.Details(err)
			fmt.Fprintf(os.Stderr, "error[%s]: %s\n", details.Kind, details.Message)
		}
		os.Exit(services.ExitCode(err))
	}
}
