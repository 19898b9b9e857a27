package monitor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// TerminationSignals are the signals an operator or the OS sends to end a
// process politely.
var TerminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// SignalContext applies the termination policy. With ignore set the
// signals are discarded and the returned context is never cancelled by
// them; SIGKILL remains the only way to stop the process. Otherwise they
// cancel the context.
func SignalContext(parent context.Context, ignore bool, log *zap.Logger) (context.Context, context.CancelFunc) {
	if ignore {
		signal.Ignore(TerminationSignals...)
		log.Info("termination signals ignored; stop with SIGKILL or `killswitch supervise stop`")
		return context.WithCancel(parent)
	}
	return signal.NotifyContext(parent, TerminationSignals...)
}
