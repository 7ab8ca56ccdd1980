// Package netpipe runs the long-lived parts of a netpipe process (servers,
// clients, the metrics endpoint) as modules with a shared lifecycle.
package netpipe

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/xlog"
)

var version = "0.3.0"

// Version returns the netpipe version.
func Version() string {
	return version
}

// Run registers mods, starts them and blocks until SIGINT or SIGTERM, then
// destroys them in reverse order.
func Run(mods ...Module) {
	RunContext(context.Background(), mods...)
}

// RunContext is Run that also returns when ctx is done.
func RunContext(ctx context.Context, mods ...Module) {
	xlog.Write().Info("netpipe starting", zap.String("version", version))

	for i := range mods {
		Register(mods[i])
	}
	Init()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	xlog.Write().Info("netpipe shutting down", zap.Error(context.Cause(ctx)))
	Destroy()
	xlog.Sync()
}
