// Command recordload bulk-loads CSV and NDJSON dumps into a wide-column
// store and searches the loaded records.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// Register every storage backend; the config picks one.
	_ "recordload/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
