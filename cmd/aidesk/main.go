package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		var exitErr *ExitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil && !exitErr.Reported {
				fmt.Fprintln(os.Stderr, red("Error: "+exitErr.Err.Error()))
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
