// Command praxisdb operates the praxis persistence engine from a shell: it
// inspects initialization, reads and writes entities, exports and imports
// backups and serves the status and metrics endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "praxisdb:", err)
		stop()
		exitFunc(1)
	}
}
