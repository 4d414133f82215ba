package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/alexcabrera/devflow/internal/version"
)

func main() {
	ctx := context.Background()
	cmd := newRootCmd()

	// errCancelled means the user backed out of a prompt; nothing to report.
	errorHandler := func(w io.Writer, styles fang.Styles, err error) {
		if errors.Is(err, errCancelled) {
			return
		}
		fang.DefaultErrorHandler(w, styles, err)
	}

	if err := fang.Execute(ctx, cmd,
		fang.WithVersion(version.Version),
		fang.WithErrorHandler(errorHandler),
	); err != nil {
		os.Exit(1)
	}
}
