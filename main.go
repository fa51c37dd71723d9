// The main package for the crawler executable.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/family-crawler/cmd"
)

// main defers all execution to the Cobra CLI. SIGINT and SIGTERM cancel the
// crawl, which then records itself as failed.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
