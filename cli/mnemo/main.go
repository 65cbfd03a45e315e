package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mnemocmder "github.com/papercomputeco/mnemo/cmd/mnemo"
)

func main() {
	// Streaming commands such as watch end cleanly when ctx is cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := mnemocmder.NewMnemoCmd()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
