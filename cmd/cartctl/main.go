package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/utafrali/cartsync/internal/cli"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		msg := err.Error()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		fmt.Fprintln(os.Stderr, "cartctl:", msg)
		os.Exit(1)
	}
}
